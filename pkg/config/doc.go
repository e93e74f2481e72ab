// Package config loads the eLabFTW connection settings used by elabmate.
//
// The configuration file is plain UTF-8 text with one KEY=VALUE pair per
// line. Blank lines and lines starting with # are ignored:
//
//	# elab_server.conf
//	API_HOST_URL=https://elab.example.org/api/v2
//	API_KEY=3-abcdef...
//	VERIFY_SSL=true
//	UNIQUE_EXPERIMENTS_TITLES=true
//	TEAM_ID=1
//	LABMATE_DATA_DIR=/data/labmate
//
// # Keys
//
//   - API_HOST_URL (required): API root, including the /api/v2 suffix
//   - API_KEY (required): sent verbatim in the Authorization header
//   - VERIFY_SSL: true or false, default true
//   - UNIQUE_EXPERIMENTS_TITLES: true or false, default false
//   - TEAM_ID: positive integer; resolved from the API when absent
//   - LABMATE_DATA_DIR: directory watched by the Labmate integration
//   - REQUEST_TIMEOUT: Go duration bounding one HTTP exchange, default 30s
//
// Booleans accept true and false in any letter case and nothing else.
// Unknown keys are kept in Config.Raw.
//
// # Resolution
//
// Values are layered with viper: built-in defaults, then the file, then
// environment variables named ELAB_<KEY> (for example ELAB_TEAM_ID). Empty
// environment variables are ignored.
//
// Every failure is an errors.ErrorTypeConfig error; no Config is returned
// alongside it.
package config
