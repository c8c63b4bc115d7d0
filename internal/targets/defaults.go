package targets

import "strings"

var defaultToolNames = []string{
	"java -Xmx250m -Dfastqc.output_dir=. -XX:ParallelGCThreads=1 -Djava.awt.headless",
	"STAR",
	"bowtie2",
	"bwa",
	"salmon",
	"hisat2",
	"HOMER",
	"samtools",
	"bedtools",
	"deeptools",
	"macs3",
	"plotCoverage",
	"Genrich",
	"TopHat",
	"JAMM",
	"fastqc",
	"multiqc",
	"fastp",
	"PEAR",
	"Trimmomatic",
	"sra-toolkit",
	"Picard",
	"cutadapt",
	"cellranger",
	"STATsolo",
	"scTE",
	"scanpy",
	"Seurat",
	"LIGER",
	"SC3",
	"Louvain",
	"Leiden",
	"Garnett",
	"Monocle",
	"Harmony",
	"PAGA",
	"Palantir",
	"velocity",
	"CellPhoneDB",
	"CellChat",
	"NicheNet",
	"FIt-SNE",
	"umap",
	"bbmap",
	"cuffdiff",
	"RNA-SeQC",
	"RSeQC",
	"Trimgalore",
	"UCHIME",
	"Erange",
	"X-Mate",
	"SpliceSeq",
	"casper",
	"DESeq",
	"EdgeR",
	"kallisto",
	"pairtools",
	"HiCExplorer",
	"GITAR",
	"TADbit",
	"Juicer",
	"HiC-Pro",
	"cooler",
	"cooltools",
	"runHiC",
}

// DefaultTargets returns the built-in tool list. Single words match the process name exactly,
// anything with arguments matches the command line by substring.
func DefaultTargets() []Target {
	defaults := make([]Target, 0, len(defaultToolNames))
	for _, tool := range defaultToolNames {
		if strings.Contains(tool, " ") {
			defaults = append(defaults, Target{Command: Contains(tool)})
			continue
		}
		defaults = append(defaults, Target{Name: Exact(tool)})
	}
	return defaults
}
