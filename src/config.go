package probflow

import "io"

// FitConfig holds all training configuration
type FitConfig struct {
	Epochs       int
	BatchSize    int
	Shuffle      bool
	LearningRate float64 // 0 keeps the optimizer's current rate
	KLWeight     float64 // 0 keeps the model's current weight, which starts at 1
	Seed         uint64
	Workers      int // goroutines used for metric evaluation, 0 means 1
	Verbose      bool
	Output       io.Writer // progress lines when Verbose, defaults to os.Stdout
}

// ModelConfig holds model construction settings
type ModelConfig struct {
	Features       int
	Likelihood     string // registered distribution with loc and scale arguments
	LikelihoodArgs Args   // extra likelihood arguments, e.g. df for StudentT
	PriorLoc       float64
	PriorScale     float64
	InitScale      float64     // initial posterior scale of weights and bias
	InitStd        float64     // initial observation scale, 0 means 1
	Initializer    Initializer // nil means Zeros
	Regularizer    Regularizer // nil means KL(PriorLoc, PriorScale)
	Optimizer      Optimizer
}

// ValidateFitConfig checks all required fields are set
func ValidateFitConfig(cfg FitConfig) error {
	if cfg.Epochs <= 0 {
		return configError("FitConfig", "epochs", "must be > 0, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return configError("FitConfig", "batch_size", "must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.LearningRate < 0 {
		return configError("FitConfig", "learning_rate", "must be >= 0, got %g", cfg.LearningRate)
	}
	if cfg.KLWeight < 0 {
		return configError("FitConfig", "kl_weight", "must be >= 0, got %g", cfg.KLWeight)
	}
	if cfg.Workers < 0 {
		return configError("FitConfig", "workers", "must be >= 0, got %d", cfg.Workers)
	}
	return nil
}

// ValidateModelConfig checks the model can be built
func ValidateModelConfig(cfg ModelConfig) error {
	if cfg.Features <= 0 {
		return configError("ModelConfig", "features", "must be > 0, got %d", cfg.Features)
	}
	defaults, ok := DefaultArgs(cfg.Likelihood)
	if !ok {
		return configError("ModelConfig", "likelihood", "unknown distribution %q", cfg.Likelihood)
	}
	if _, ok := defaults["loc"]; !ok {
		return configError("ModelConfig", "likelihood", "%s has no loc parameter", cfg.Likelihood)
	}
	if _, ok := defaults["scale"]; !ok {
		return configError("ModelConfig", "likelihood", "%s has no scale parameter", cfg.Likelihood)
	}
	for k := range cfg.LikelihoodArgs {
		if k == "loc" || k == "scale" {
			return configError("ModelConfig", "likelihood_args", "%s is learned and cannot be fixed", k)
		}
	}
	if _, err := NewDistribution(cfg.Likelihood, cfg.LikelihoodArgs, nil); err != nil {
		return err
	}
	if cfg.PriorScale <= 0 {
		return configError("ModelConfig", "prior_scale", "must be > 0, got %g", cfg.PriorScale)
	}
	if cfg.InitScale <= 0 {
		return configError("ModelConfig", "init_scale", "must be > 0, got %g", cfg.InitScale)
	}
	if cfg.InitStd < 0 {
		return configError("ModelConfig", "init_std", "must be >= 0, got %g", cfg.InitStd)
	}
	if cfg.Optimizer == nil {
		return configError("ModelConfig", "optimizer", "is nil")
	}
	return nil
}
