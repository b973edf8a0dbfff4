package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildTreeRendering(t *testing.T) {
	files := []string{
		"README.md",
		"src/main.py",
		"src/utils.py",
		"tests/test_main.py",
	}

	tree, stats := BuildTree("myproject", files, 5)

	expected := "myproject\n" +
		"├── src\n" +
		"│   ├── main.py\n" +
		"│   └── utils.py\n" +
		"├── tests\n" +
		"│   └── test_main.py\n" +
		"└── README.md"
	assert.Equal(t, expected, tree)
	assert.Equal(t, TreeStats{TotalFiles: 4, TotalDirs: 2, TotalLines: 7}, stats)
}

func TestBuildTreeDepthCap(t *testing.T) {
	files := []string{
		"level0/level1/level2/level3/deep.txt",
		"level0/top.txt",
	}

	tree, stats := BuildTree("proj", files, 2)

	assert.Contains(t, tree, "level0")
	assert.Contains(t, tree, "level1")
	assert.Contains(t, tree, "level2")
	assert.NotContains(t, tree, "level3")
	assert.NotContains(t, tree, "deep.txt")
	assert.Contains(t, tree, "top.txt")

	// Totals count the whole walked set, not the rendered subset.
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, 4, stats.TotalDirs)
	// proj, level0, level1, level2, top.txt.
	assert.Equal(t, 5, stats.TotalLines)
}

func TestBuildTreeEmpty(t *testing.T) {
	tree, stats := BuildTree("empty", nil, 5)
	assert.Equal(t, "empty", tree)
	assert.Equal(t, TreeStats{TotalFiles: 0, TotalDirs: 0, TotalLines: 1}, stats)
}

func TestBuildTreeDirsBeforeFiles(t *testing.T) {
	tree, _ := BuildTree("p", []string{"aaa.txt", "zzz/inner.txt"}, 5)

	zzz := strings.Index(tree, "zzz")
	aaa := strings.Index(tree, "aaa.txt")
	assert.Greater(t, aaa, zzz, "directories should render before files")
}
