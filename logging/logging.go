package logging

import "go.uber.org/zap"

// New builds the service logger. Production gets sampled JSON output, every
// other environment gets the development console encoder with debug enabled.
func New(env string) (*zap.Logger, error) {
	if env == "prod" || env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
