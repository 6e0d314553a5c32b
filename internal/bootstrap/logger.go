package bootstrap

import (
	"quant_trader/pkg/logging"
)

// InitLogger builds the process logger from the log section and installs it
// as the package-global default. Telemetry must already be set up: the OTel
// bridge core binds whatever logger provider is global at construction.
func InitLogger(cfg *Config) (*logging.ZapLogger, error) {
	logger, err := logging.NewZapLoggerWithConfig(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}
