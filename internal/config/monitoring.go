// Monitoring configuration - logging and journal settings.
//
// DESIGN: Separates logging (zerolog) from the frame journal (JSONL file).
// Logging is for operators, the journal replays what the relay was sent.
package config

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console (auto-detected when empty)
	LogOutput string `yaml:"log_output"` // stderr (default), stdout, or file path

	JournalPath string `yaml:"journal_path"` // JSONL file of outbound frames; empty disables
}
