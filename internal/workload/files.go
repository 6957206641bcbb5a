package workload

import "slices"

// LocalFiles is an ordered set of local paths that must be uploaded before
// any task referencing them is created. The zero value is empty.
type LocalFiles struct {
	paths []string
}

// NewLocalFiles keeps paths in order, dropping repeats.
func NewLocalFiles(paths ...string) LocalFiles {
	return LocalFiles{}.Union(LocalFiles{paths: paths})
}

// Paths returns the paths in order.
func (f LocalFiles) Paths() []string { return slices.Clone(f.paths) }

// Len returns the number of distinct paths.
func (f LocalFiles) Len() int { return len(f.paths) }

// Union returns the paths of f followed by those of other not already in f.
func (f LocalFiles) Union(other LocalFiles) LocalFiles {
	out := make([]string, 0, len(f.paths)+len(other.paths))
	for _, p := range slices.Concat(f.paths, other.paths) {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return LocalFiles{paths: out}
}

// ResourceFile is a file already present in storage: Source locates the
// blob, Path is where it lands relative to the task working directory.
type ResourceFile struct {
	Source string `json:"source"`
	Path   string `json:"path"`
}

// UploadedFiles is an ordered list of files attached to tasks without upload.
type UploadedFiles struct {
	files []ResourceFile
}

// NewUploadedFiles creates an UploadedFiles list.
func NewUploadedFiles(files ...ResourceFile) UploadedFiles {
	return UploadedFiles{files: slices.Clone(files)}
}

// Files returns the attached files in order.
func (u UploadedFiles) Files() []ResourceFile { return slices.Clone(u.files) }

// Len returns the number of attached files.
func (u UploadedFiles) Len() int { return len(u.files) }
