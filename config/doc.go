// Package config loads batchsync configuration.
//
// Values are layered: Default, then each file passed to Loader.AddLayer (JSON,
// or YAML for .yaml/.yml), then environment overrides prefixed BATCHSYNC_.
// SOURCE_AD_STORAGE_DIR is also honored for the source directory. The CLI
// applies its flags on top and calls Validate before touching the
// filesystem.
//
//	loader := config.NewLoader()
//	loader.AddLayer("batchsync.yaml")
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//	cfg.Publish.Start = 100
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// Durations such as nats.reconnect_wait accept Go duration strings ("2s").
// Unknown keys in a file are rejected.
package config
