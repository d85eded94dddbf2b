package deploy

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp-forge/pbi/pkg/powerbi"
)

// DefaultNameSeparator joins a prefix and a file stem.
const DefaultNameSeparator = " -- "

// NameBuilder derives the display name of a dataset or report from the file
// it is published from.
type NameBuilder interface {
	BuildName(filePath string, vars map[string]string) string
}

// NameBuilderFunc adapts a function to NameBuilder.
type NameBuilderFunc func(filePath string, vars map[string]string) string

func (f NameBuilderFunc) BuildName(filePath string, vars map[string]string) string {
	return f(filePath, vars)
}

// FileStem names an item after its file without directory or extension.
// It is the default NameBuilder.
type FileStem struct{}

func (FileStem) BuildName(filePath string, _ map[string]string) string {
	return stem(filePath)
}

// PrefixedFileStem prepends Prefix and Separator to the file stem. An empty
// Prefix yields the bare stem.
type PrefixedFileStem struct {
	Prefix string

	// Separator (default: " -- ").
	Separator string
}

func (p PrefixedFileStem) BuildName(filePath string, _ map[string]string) string {
	if p.Prefix == "" {
		return stem(filePath)
	}
	sep := p.Separator
	if sep == "" {
		sep = DefaultNameSeparator
	}
	return p.Prefix + sep + stem(filePath)
}

func stem(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// NameComparator decides whether an existing item has the target name and
// is therefore replaced by the item being published.
type NameComparator interface {
	SameName(existing, target string, overwrite bool) bool
}

// NameComparatorFunc adapts a function to NameComparator.
type NameComparatorFunc func(existing, target string, overwrite bool) bool

func (f NameComparatorFunc) SameName(existing, target string, overwrite bool) bool {
	return f(existing, target, overwrite)
}

// ExactName matches identical names. It is the default NameComparator.
type ExactName struct{}

func (ExactName) SameName(existing, target string, _ bool) bool {
	return existing == target
}

// CaseInsensitiveName matches names that differ only in case.
type CaseInsensitiveName struct{}

func (CaseInsensitiveName) SameName(existing, target string, _ bool) bool {
	return strings.EqualFold(existing, target)
}

// ReportHook is called for every report once it is published and bound to
// its dataset. Errors are logged and do not stop the deployment.
type ReportHook interface {
	ReportPublished(ctx context.Context, report powerbi.Report, vars map[string]string) error
}

// ReportHookFunc adapts a function to ReportHook.
type ReportHookFunc func(ctx context.Context, report powerbi.Report, vars map[string]string) error

func (f ReportHookFunc) ReportPublished(ctx context.Context, report powerbi.Report, vars map[string]string) error {
	return f(ctx, report, vars)
}

// Hooks runs every non-nil hook in order and returns their failures
// together.
func Hooks(hooks ...ReportHook) ReportHook {
	return ReportHookFunc(func(ctx context.Context, report powerbi.Report, vars map[string]string) error {
		var result *multierror.Error
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := h.ReportPublished(ctx, report, vars); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result.ErrorOrNil()
	})
}
