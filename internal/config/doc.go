// Package config loads ghostwatch server configuration.
//
// The configuration lives in ghostwatch.json (or ghostwatch.toml) next to
// the binary or in the directory given with --config. Environment variables
// override the file, and command line flags override both.
//
// # Configuration File Structure
//
//	{
//	  "addr": ":8080",
//	  "dictionary": {
//	    "path": "data.dict",
//	    "reloadInterval": "30s",
//	    "retain": 2
//	  },
//	  "batch": {
//	    "flushInterval": "100ms",
//	    "size": 64
//	  },
//	  "compression": {
//	    "level": "default",
//	    "minSize": 1024
//	  },
//	  "websocket": {
//	    "framing": "tagged",
//	    "defaultChannel": "main_room"
//	  },
//	  "log": {"level": "info", "format": "text"}
//	}
//
// The TOML form uses snake_case keys (flush_interval, min_size, ...).
//
// # Environment
//
//	GHOSTWATCH_ADDR, PORT, GHOSTWATCH_DICT_PATH, GHOSTWATCH_FLUSH_INTERVAL,
//	GHOSTWATCH_BATCH_SIZE, GHOSTWATCH_MIN_COMPRESS_SIZE,
//	GHOSTWATCH_ADMIN_TOKEN, GHOSTWATCH_LOG_LEVEL
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(os.Getenv); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
