package classifier

import (
	"testing"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// TestEpisodicClassification: episodic cues
// ("went", "yesterday") make episodic the primary sector; "loved" matches
// no emotional pattern, which lists only the base word "love".
func TestEpisodicClassification(t *testing.T) {
	res := Classify("I went to Paris yesterday and loved the Eiffel Tower", nil)
	if res.Primary != model.SectorEpisodic {
		t.Fatalf("expected primary sector episodic, got %s", res.Primary)
	}
}

func TestDefaultsToSemanticWhenNoPatternMatches(t *testing.T) {
	res := Classify("xqz qqz zzqx", nil)
	if res.Primary != model.SectorSemantic {
		t.Fatalf("expected default primary sector semantic, got %s", res.Primary)
	}
}

func TestMetadataForcedSectorOverridesRegexPrimary(t *testing.T) {
	res := Classify("I went to Paris yesterday", map[string]any{"sector": "procedural"})
	if res.Primary != model.SectorProcedural {
		t.Fatalf("expected metadata-forced primary procedural, got %s", res.Primary)
	}
	found := false
	for _, s := range res.Additional {
		if s == model.SectorEpisodic {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected regex-computed primary to be demoted into additional sectors, got %v", res.Additional)
	}
}

func TestProceduralClassification(t *testing.T) {
	res := Classify("Step 1, run the installer. Then, configure the settings.", nil)
	if res.Primary != model.SectorProcedural {
		t.Fatalf("expected primary sector procedural, got %s", res.Primary)
	}
}
