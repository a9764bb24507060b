package runner

import (
	"strings"
	"time"

	"pricecast/internal/config"
	"pricecast/internal/pipeline"
)

// RequestFromConfig builds a request for symbol from the configured training
// defaults, testing up to the day of now.
func RequestFromConfig(cfg *config.Config, symbol string, now time.Time) (pipeline.Request, error) {
	start, end, err := cfg.TrainingRange()
	if err != nil {
		return pipeline.Request{}, err
	}
	t := cfg.Training
	req := pipeline.NewRequest(strings.ToUpper(symbol), t.WindowLength, t.Epochs, t.BatchSize, now)
	req.TrainStart = start
	req.TrainEnd = end
	return req, nil
}
