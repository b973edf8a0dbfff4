package ingest

import (
	"sort"
	"strings"
)

// TreeStats summarize a rendered skeleton. TotalFiles and TotalDirs
// count the whole walked set; TotalLines counts the rendered text,
// which the depth cap may truncate.
type TreeStats struct {
	TotalFiles int `json:"total_files"`
	TotalDirs  int `json:"total_dirs"`
	TotalLines int `json:"total_lines"`
}

type treeNode struct {
	dirs  map[string]*treeNode
	files []string
}

func newTreeNode() *treeNode {
	return &treeNode{dirs: map[string]*treeNode{}}
}

func (n *treeNode) insert(parts []string) {
	if len(parts) == 1 {
		n.files = append(n.files, parts[0])
		return
	}
	child, ok := n.dirs[parts[0]]
	if !ok {
		child = newTreeNode()
		n.dirs[parts[0]] = child
	}
	child.insert(parts[1:])
}

func (n *treeNode) countDirs() int {
	total := len(n.dirs)
	for _, c := range n.dirs {
		total += c.countDirs()
	}
	return total
}

// BuildTree renders a directory tree over relative slash-separated file
// paths. Directories sort before files at each level. maxDepth caps how
// many directory levels below the root are expanded.
func BuildTree(rootName string, files []string, maxDepth int) (string, TreeStats) {
	root := newTreeNode()
	for _, f := range files {
		if f == "" {
			continue
		}
		root.insert(strings.Split(f, "/"))
	}

	var b strings.Builder
	b.WriteString(rootName)
	renderNode(&b, root, "", 0, maxDepth)

	tree := b.String()
	return tree, TreeStats{
		TotalFiles: len(files),
		TotalDirs:  root.countDirs(),
		TotalLines: strings.Count(tree, "\n") + 1,
	}
}

func renderNode(b *strings.Builder, node *treeNode, prefix string, depth, maxDepth int) {
	dirNames := make([]string, 0, len(node.dirs))
	for name := range node.dirs {
		dirNames = append(dirNames, name)
	}
	sort.Strings(dirNames)
	fileNames := append([]string(nil), node.files...)
	sort.Strings(fileNames)

	total := len(dirNames) + len(fileNames)
	written := 0
	writeLine := func(name string) string {
		written++
		connector, continuation := "├── ", "│   "
		if written == total {
			connector, continuation = "└── ", "    "
		}
		b.WriteString("\n" + prefix + connector + name)
		return prefix + continuation
	}

	for _, name := range dirNames {
		childPrefix := writeLine(name)
		if depth+1 <= maxDepth {
			renderNode(b, node.dirs[name], childPrefix, depth+1, maxDepth)
		}
	}
	for _, name := range fileNames {
		writeLine(name)
	}
}
