package ralph

import (
	"fmt"
	"regexp"
	"strings"
)

var fileBlockRe = regexp.MustCompile(`(?s)@@@ FILE: (.*?) @@@\n(.*?)\n@@@ END_FILE @@@`)

// FileBlock is one target file with its full replacement content.
type FileBlock struct {
	Path    string
	Content string
}

// ParsedPatch is either PatchBlocks or MalformedPatch.
type ParsedPatch interface {
	isParsedPatch()
}

// PatchBlocks is a well-formed reply with at least one block.
type PatchBlocks []FileBlock

// MalformedPatch keeps a reply that held no usable block.
type MalformedPatch struct {
	Raw string
}

func (PatchBlocks) isParsedPatch()    {}
func (MalformedPatch) isParsedPatch() {}

// PatchFormatError describes a malformed reply.
type PatchFormatError struct {
	Raw string
}

func (e *PatchFormatError) Error() string {
	return fmt.Sprintf("patch response has no file blocks (%d bytes)", len(e.Raw))
}

// ParsePatch extracts file blocks of the form
//
//	@@@ FILE: path/to/file @@@
//	<content>
//	@@@ END_FILE @@@
//
// It never fails; a reply without blocks becomes MalformedPatch.
func ParsePatch(reply string) ParsedPatch {
	normalized := strings.ReplaceAll(reply, "\r\n", "\n")
	matches := fileBlockRe.FindAllStringSubmatch(normalized, -1)
	var blocks PatchBlocks
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if path == "" {
			continue
		}
		blocks = append(blocks, FileBlock{Path: path, Content: m[2] + "\n"})
	}
	if len(blocks) == 0 {
		return MalformedPatch{Raw: reply}
	}
	return blocks
}

// Paths lists the block targets in order.
func (p PatchBlocks) Paths() []string {
	out := make([]string, len(p))
	for i, b := range p {
		out[i] = b.Path
	}
	return out
}
