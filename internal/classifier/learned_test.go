package classifier

import (
	"testing"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

func TestTrainLinearConvergesOnSeparableSamples(t *testing.T) {
	samples := []TrainingSample{
		{MeanVec: []float64{1, 0, 0}, Sector: model.SectorEpisodic},
		{MeanVec: []float64{0.9, 0.1, 0}, Sector: model.SectorEpisodic},
		{MeanVec: []float64{0, 1, 0}, Sector: model.SectorSemantic},
		{MeanVec: []float64{0, 0.9, 0.1}, Sector: model.SectorSemantic},
	}
	cm := TrainLinear(nil, samples, 3, 42)
	if cm.Version != 1 {
		t.Fatalf("expected fresh model version 1, got %d", cm.Version)
	}

	res := Predict(cm, []float64{1, 0, 0})
	if res.Primary != model.SectorEpisodic {
		t.Fatalf("expected learned classifier to predict episodic for an episodic-like vector, got %s", res.Primary)
	}

	next := TrainLinear(cm, samples, 3, 42)
	if next.Version != 2 {
		t.Fatalf("expected version to bump on retrain, got %d", next.Version)
	}
}

func TestPredictAdditionalSectorsExcludePrimary(t *testing.T) {
	cm := &model.ClassifierModel{
		Weights: map[model.Sector][]float64{
			model.SectorEpisodic:   {5, 0, 0, 0, 0},
			model.SectorSemantic:   {4.5, 0, 0, 0, 0},
			model.SectorProcedural: {0, 0, 0, 0, 0},
			model.SectorEmotional:  {0, 0, 0, 0, 0},
			model.SectorReflective: {0, 0, 0, 0, 0},
		},
		Biases: map[model.Sector]float64{},
	}
	res := Predict(cm, []float64{1, 0, 0, 0, 0})
	for _, s := range res.Additional {
		if s == res.Primary {
			t.Fatalf("additional sectors must exclude primary, got %v with primary %s", res.Additional, res.Primary)
		}
	}
}
