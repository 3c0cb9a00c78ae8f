// Package config loads the application configuration.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//  1. Environment variables (highest priority)
//  2. YAML file at SYNERGY_CONFIG_FILE, config.yaml or configs/config.yaml
//  3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern SYNERGY_<SECTION>_<FIELD>:
//
//	SYNERGY_ACTIVATION_URL=https://symless.com/api/product/activate
//	SYNERGY_ACTIVATION_TIMEOUT=30s
//	SYNERGY_LOGGING_LEVEL=debug
//	SYNERGY_SERVER_ADDRESS=127.0.0.1:24803
//	SYNERGY_FEATURES_AUTO_ENABLE=tls,invert_connection
//
// Automated runs use the test section:
//
//	SYNERGY_TEST_SERIAL_KEY=<hex serial key>
//	SYNERGY_TEST_API_URL_ACTIVATE=http://127.0.0.1:9000/activate
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Tests build a configuration with Default and adjust fields directly.
package config
