package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PackageResolver resolves a package name to its filesystem directory,
// backing the $(find pkg) substitution directive. The loader never walks
// the filesystem itself; it always goes through this interface.
type PackageResolver interface {
	FindPackage(name string) (string, error)
}

// PathResolver is a PackageResolver that searches a fixed list of root
// directories for a child directory matching the package name, mirroring
// rospkg's ROS_PACKAGE_PATH search.
type PathResolver struct {
	Roots []string
}

// NewPathResolver returns a PathResolver seeded from the colon-separated
// ROS_PACKAGE_PATH environment variable.
func NewPathResolver() *PathResolver {
	var roots []string
	if path := os.Getenv("ROS_PACKAGE_PATH"); path != "" {
		roots = strings.Split(path, ":")
	}
	return &PathResolver{Roots: roots}
}

// FindPackage searches each root for a directory named name, returning the
// first match in root order.
func (r *PathResolver) FindPackage(name string) (string, error) {
	for _, root := range r.Roots {
		candidate := filepath.Join(root, name)
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("package %q not found on ROS_PACKAGE_PATH", name)
}
