package tracker

import (
	"sort"
	"strings"
)

// DatasetTracker is the set of distinct dataset arguments seen on tracked command lines.
type DatasetTracker struct {
	extensions []string
	datasets   map[string]struct{}
}

func NewDatasetTracker(extensions []string) *DatasetTracker {
	return &DatasetTracker{
		extensions: extensions,
		datasets:   make(map[string]struct{}),
	}
}

// Add records every argument ending with a dataset extension.
func (d *DatasetTracker) Add(args []string) {
	for _, arg := range args {
		if d.isDataset(arg) {
			d.datasets[arg] = struct{}{}
		}
	}
}

func (d *DatasetTracker) isDataset(arg string) bool {
	for _, extension := range d.extensions {
		if strings.HasSuffix(arg, extension) {
			return true
		}
	}
	return false
}

func (d *DatasetTracker) Len() int {
	return len(d.datasets)
}

// Joined renders the set sorted and comma separated.
func (d *DatasetTracker) Joined() string {
	sorted := make([]string, 0, len(d.datasets))
	for dataset := range d.datasets {
		sorted = append(sorted, dataset)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

func (d *DatasetTracker) Reset() {
	d.datasets = make(map[string]struct{})
}

// DefaultDatasetExtensions are the sequence, alignment and variant formats counted as datasets.
func DefaultDatasetExtensions() []string {
	return []string{
		".fa", ".fasta", ".fa.gz", ".fasta.gz",
		".fq", ".fastq", ".fq.gz", ".fastq.gz",
		".bam", ".sam", ".cram",
		".vcf", ".vcf.gz", ".bed",
	}
}
