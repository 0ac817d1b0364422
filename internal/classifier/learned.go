package classifier

import (
	"math"
	"math/rand"

	"github.com/lucivskvn/OpenMemory-OSS-sub000/internal/model"
)

// TrainingSample is one (mean_vec, primary_sector) observation used to fit a
// user's learned classifier.
type TrainingSample struct {
	MeanVec []float64
	Sector  model.Sector
}

// sgdLearningRate and sgdEpochs are the standard multinomial-SGD settings.
const (
	sgdLearningRate = 0.01
	sgdEpochs       = 15
)

// TrainLinear fits a multinomial logistic regression (softmax) classifier by
// SGD over samples, starting from prior (nil for a fresh model). Sectors
// unseen in samples are seeded with small random weights so the model can
// still predict them later. Returned model's Version is prior's + 1 (or 1).
func TrainLinear(prior *model.ClassifierModel, samples []TrainingSample, dim int, seed int64) *model.ClassifierModel {
	rng := rand.New(rand.NewSource(seed))
	weights := make(map[model.Sector][]float64, len(model.AllSectors))
	biases := make(map[model.Sector]float64, len(model.AllSectors))
	for _, sector := range model.AllSectors {
		if prior != nil {
			if w, ok := prior.Weights[sector]; ok && len(w) == dim {
				weights[sector] = append([]float64(nil), w...)
				biases[sector] = prior.Biases[sector]
				continue
			}
		}
		w := make([]float64, dim)
		for i := range w {
			w[i] = (rng.Float64() - 0.5) * 0.01
		}
		weights[sector] = w
		biases[sector] = 0
	}

	for epoch := 0; epoch < sgdEpochs; epoch++ {
		for _, sample := range samples {
			if len(sample.MeanVec) != dim {
				continue
			}
			logits := make(map[model.Sector]float64, len(model.AllSectors))
			for _, sector := range model.AllSectors {
				logits[sector] = dot(weights[sector], sample.MeanVec) + biases[sector]
			}
			probs := softmax(logits)
			for _, sector := range model.AllSectors {
				target := 0.0
				if sector == sample.Sector {
					target = 1.0
				}
				grad := probs[sector] - target
				w := weights[sector]
				for i, x := range sample.MeanVec {
					w[i] -= sgdLearningRate * grad * x
				}
				biases[sector] -= sgdLearningRate * grad
			}
		}
	}

	version := 1
	if prior != nil {
		version = prior.Version + 1
	}
	userID := ""
	if prior != nil {
		userID = prior.UserID
	}
	return &model.ClassifierModel{
		UserID:  userID,
		Weights: weights,
		Biases:  biases,
		Version: version,
	}
}

// Predict runs the learned model over meanVec, returning primary, additional
// (posterior > 0.2, excluding primary), and primary's posterior as
// confidence.
func Predict(cm *model.ClassifierModel, meanVec []float64) Result {
	logits := make(map[model.Sector]float64, len(model.AllSectors))
	for _, sector := range model.AllSectors {
		w, ok := cm.Weights[sector]
		if !ok || len(w) != len(meanVec) {
			logits[sector] = 0
			continue
		}
		logits[sector] = dot(w, meanVec) + cm.Biases[sector]
	}
	probs := softmax(logits)

	var primary model.Sector
	best := -1.0
	for _, sector := range model.AllSectors {
		if probs[sector] > best {
			best = probs[sector]
			primary = sector
		}
	}

	additional := make([]model.Sector, 0, 2)
	for _, sector := range model.AllSectors {
		if sector == primary {
			continue
		}
		if probs[sector] > 0.2 {
			additional = append(additional, sector)
		}
	}

	return Result{Primary: primary, Additional: additional, Confidence: probs[primary]}
}

func dot(a []float64, b []float64) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func softmax(logits map[model.Sector]float64) map[model.Sector]float64 {
	maxLogit := math.Inf(-1)
	for _, sector := range model.AllSectors {
		if logits[sector] > maxLogit {
			maxLogit = logits[sector]
		}
	}
	exps := make(map[model.Sector]float64, len(model.AllSectors))
	var sum float64
	for _, sector := range model.AllSectors {
		e := math.Exp(logits[sector] - maxLogit)
		exps[sector] = e
		sum += e
	}
	if sum == 0 {
		sum = 1
	}
	out := make(map[model.Sector]float64, len(model.AllSectors))
	for _, sector := range model.AllSectors {
		out[sector] = exps[sector] / sum
	}
	return out
}
