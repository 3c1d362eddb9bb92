package workers

import "lawcrawl/models"

// LogFunc records an operator-facing line against a task (task_logs table).
type LogFunc func(taskID string, level models.LogLevel, source, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(taskID string, level models.LogLevel, source, message string) {}
