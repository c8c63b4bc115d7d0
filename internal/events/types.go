package events

type Type string

const (
	TypeToolExecution         Type = "tool_execution"
	TypeToolMetric            Type = "tool_metric_event"
	TypeFinishedToolExecution Type = "finished_tool_execution"
	TypeDataSamples           Type = "datasamples_event"
	TypeHostProperties        Type = "host_properties"
	TypeRunStatus             Type = "run_status"
	TypeLog                   Type = "log"
	TypeAlert                 Type = "alert"
)
