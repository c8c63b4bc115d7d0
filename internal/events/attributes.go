package events

import "gopkg.in/guregu/null.v3"

// Attributes is the typed payload attached to an event.
type Attributes interface {
	AttributesName() string
}

type InputFile struct {
	FileName               string `json:"file_name"`
	FileSize               int64  `json:"file_size"`
	FilePath               string `json:"file_path"`
	FileDirectory          string `json:"file_directory"`
	FileUpdatedAtTimestamp string `json:"file_updated_at_timestamp"`
}

type ProcessProperties struct {
	ToolName                          string      `json:"tool_name"`
	ToolPid                           string      `json:"tool_pid"`
	ToolParentPid                     string      `json:"tool_parent_pid"`
	ToolBinaryPath                    string      `json:"tool_binary_path"`
	ToolCmd                           string      `json:"tool_cmd"`
	StartTimestamp                    string      `json:"start_timestamp"`
	ProcessCpuUtilization             float64     `json:"process_cpu_utilization"`
	ProcessRunTime                    uint64      `json:"process_run_time"`
	ProcessDiskUsageReadTotal         uint64      `json:"process_disk_usage_read_total"`
	ProcessDiskUsageWriteTotal        uint64      `json:"process_disk_usage_write_total"`
	ProcessDiskUsageReadLastInterval  uint64      `json:"process_disk_usage_read_last_interval"`
	ProcessDiskUsageWriteLastInterval uint64      `json:"process_disk_usage_write_last_interval"`
	ProcessMemoryUsage                uint64      `json:"process_memory_usage"`
	ProcessMemoryVirtual              uint64      `json:"process_memory_virtual"`
	ProcessStatus                     string      `json:"process_status"`
	InputFiles                        []InputFile `json:"input_files"`
	ContainerID                       null.String `json:"container_id"`
	AwsBatchJobID                     null.String `json:"aws_batch_job_id"`
}

func (p *ProcessProperties) AttributesName() string {
	return "process"
}

type CompletedProcess struct {
	ToolName    string `json:"tool_name"`
	ToolPid     string `json:"tool_pid"`
	DurationSec uint64 `json:"duration_sec"`
}

func (c *CompletedProcess) AttributesName() string {
	return "completed_process"
}

type DataSetsProcessed struct {
	Datasets string `json:"datasets"`
	Total    uint64 `json:"total"`
}

func (d *DataSetsProcessed) AttributesName() string {
	return "process_dataset_stats"
}

type HostProperties struct {
	MachineId            string    `json:"machine_id"`
	PublicIpAddress      string    `json:"public_ip_address"`
	Hostname             string    `json:"hostname"`
	LastBootTime         null.Time `json:"last_boot_at"`
	OS                   string    `json:"operating_system"`
	Platform             string    `json:"platform"`
	PlatformFamily       string    `json:"platform_family"`
	PlatformVersion      string    `json:"platform_version"`
	KernelVersion        string    `json:"kernel_version"`
	KernelArch           string    `json:"kernel_architecture"`
	VirtualizationSystem string    `json:"virtualization_system"`
	VirtualizationRole   string    `json:"virtualization_role"`
}

func (h *HostProperties) AttributesName() string {
	return "system_properties"
}

type RunStatus struct {
	RunName string `json:"run_name"`
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
}

func (r *RunStatus) AttributesName() string {
	return "run_status"
}
