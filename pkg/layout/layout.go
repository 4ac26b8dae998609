package layout

import "path/filepath"

const (
	// TempPrefix marks a subject directory that is still being written.
	TempPrefix = "__temp_"

	// FrameExt is the extension of a frame artifact.
	FrameExt = ".json"
)

// TempSubjectDir returns the placeholder directory for a subject under root.
//
// The path follows the pattern: <root>/__temp_<placeholder>
func TempSubjectDir(root, placeholder string) string {
	return filepath.Join(root, TempPrefix+placeholder)
}

// SubjectDir returns the final directory of a subject identified by stamp.
func SubjectDir(root, stamp string) string {
	return filepath.Join(root, stamp)
}

// LoopDir returns the directory of a loop inside a subject directory.
func LoopDir(subjectDir, stamp string) string {
	return filepath.Join(subjectDir, stamp)
}

// FrameFile returns the artifact file name of a frame.
func FrameFile(stamp string) string {
	return stamp + FrameExt
}

// FramePath returns the artifact path of a frame inside a loop directory.
func FramePath(loopDir, stamp string) string {
	return filepath.Join(loopDir, FrameFile(stamp))
}
