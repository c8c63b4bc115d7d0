package targets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherKinds(t *testing.T) {
	catalog, err := NewCatalog([]Target{
		{Name: Exact("fastqc")},
		{Command: Contains("--quantMode")},
		{Binary: Regex(`/bin/bowtie2(-align)?$`)},
	})
	require.NoError(t, err)

	target, ok := catalog.Match("fastqc", "fastqc sample.fq", "/usr/bin/fastqc")
	require.True(t, ok)
	assert.Equal(t, "fastqc", target.Name.Value)

	_, ok = catalog.Match("fastqc2", "fastqc2", "/usr/bin/fastqc2")
	assert.False(t, ok)

	_, ok = catalog.Match("STAR", "STAR --quantMode GeneCounts", "")
	assert.True(t, ok)

	_, ok = catalog.Match("bowtie2-align-s", "", "/opt/conda/bin/bowtie2-align")
	assert.True(t, ok)
}

func TestNewCatalogRejectsInvalidTargets(t *testing.T) {
	_, err := NewCatalog([]Target{{Binary: Regex("([")}})
	assert.Error(t, err)

	_, err = NewCatalog([]Target{{}})
	assert.Error(t, err)

	_, err = NewCatalog([]Target{{Name: &Matcher{Kind: "glob", Value: "*"}}})
	assert.Error(t, err)

	_, err = NewCatalog([]Target{{Name: Exact("x"), DisplayName: DisplayName{Expression: "name +"}}})
	assert.Error(t, err)
}

func TestMergeTargetsSkippedByDirectMatch(t *testing.T) {
	catalog, err := NewCatalog([]Target{
		{Name: Exact("multiqc"), MergeWithParents: true},
		{Name: Exact("fastqc")},
	})
	require.NoError(t, err)

	_, ok := catalog.Match("multiqc", "multiqc .", "")
	assert.False(t, ok)

	_, ok = catalog.MatchAny("multiqc", "multiqc .", "")
	assert.True(t, ok)

	merged := catalog.MergeTargets()
	require.Len(t, merged, 1)
	assert.Equal(t, "multiqc", merged[0].Name.Value)
}

func TestDisplayName(t *testing.T) {
	catalog, err := NewCatalog([]Target{
		{Name: Exact("java"), DisplayName: DisplayName{Static: "FastQC"}},
		{Name: Exact("samtools"), DisplayName: DisplayName{Expression: `name + " " + args[1]`}},
		{Name: Exact("bwa")},
	})
	require.NoError(t, err)

	java, _ := catalog.Match("java", "", "")
	name, err := java.ResolveDisplayName("java", []string{"java", "-jar"})
	require.NoError(t, err)
	assert.Equal(t, "FastQC", name)

	samtools, _ := catalog.Match("samtools", "", "")
	name, err = samtools.ResolveDisplayName("samtools", []string{"samtools", "sort", "in.bam"})
	require.NoError(t, err)
	assert.Equal(t, "samtools sort", name)

	name, err = samtools.ResolveDisplayName("samtools", []string{"samtools"})
	assert.Error(t, err)
	assert.Equal(t, "samtools", name)

	bwa, _ := catalog.Match("bwa", "", "")
	name, err = bwa.ResolveDisplayName("bwa", nil)
	require.NoError(t, err)
	assert.Equal(t, "bwa", name)
}

func TestCatalogEqual(t *testing.T) {
	first, err := NewCatalog([]Target{{Name: Exact("bwa")}, {Command: Contains("STAR"), MergeWithParents: true}})
	require.NoError(t, err)
	same, err := NewCatalog([]Target{{Name: Exact("bwa")}, {Command: Contains("STAR"), MergeWithParents: true}})
	require.NoError(t, err)
	different, err := NewCatalog([]Target{{Name: Exact("bwa")}, {Command: Contains("STAR")}})
	require.NoError(t, err)
	shorter, err := NewCatalog([]Target{{Name: Exact("bwa")}})
	require.NoError(t, err)

	assert.True(t, first.Equal(same))
	assert.False(t, first.Equal(different))
	assert.False(t, first.Equal(shorter))
	assert.False(t, first.Equal(nil))
}

func TestDefaultTargets(t *testing.T) {
	catalog, err := NewCatalog(DefaultTargets())
	require.NoError(t, err)
	assert.Equal(t, len(defaultToolNames), catalog.Len())

	_, ok := catalog.Match("java", "java -Xmx250m -Dfastqc.output_dir=. -XX:ParallelGCThreads=1 -Djava.awt.headless=true", "")
	assert.True(t, ok)
	_, ok = catalog.Match("kallisto", "kallisto quant", "")
	assert.True(t, ok)
	_, ok = catalog.Match("bash", "bash -c ls", "/bin/bash")
	assert.False(t, ok)
}
