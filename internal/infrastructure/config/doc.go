// Package config loads the HAL daemon configuration.
//
// Configuration is plain YAML with a small surface: where the FDI rule
// sources and compiled cache live, which bus name to claim, whether the
// device event journal is on, and how to log. Defaults match a system
// install, so the daemon starts with no file at all.
//
// Environment variables take priority over the file so that tools, tests
// and the daemon agree on the rule tree without plumbing flags:
//
//	HAL_FDI_SOURCE_PREPROBE     override the preprobe source directory
//	HAL_FDI_SOURCE_INFORMATION  override the information source directory
//	HAL_FDI_SOURCE_POLICY       override the policy source directory
//	HAL_FDI_CACHE_NAME          override the compiled cache path
//	HALD_VERBOSE                force debug-level logging
//	HALD_USE_SYSLOG             route logs to syslog
package config
