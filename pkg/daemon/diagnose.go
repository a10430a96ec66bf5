package daemon

import (
	"os"
	"path/filepath"

	"github.com/cuemby/vrift/pkg/config"
	"github.com/cuemby/vrift/pkg/pathutil"
	"github.com/cuemby/vrift/pkg/vrerr"
)

// DiagnosticFinding is one remediation-coded problem surfaced by
// Diagnose, matching the stable E00x codes in pkg/vrerr (spec.md §9
// supplement: a `doctor`-style hook for the out-of-scope CLI to call).
type DiagnosticFinding struct {
	Code    string
	Message string
}

// Diagnose inspects cfg and projectRoot for the common misconfigurations
// named in spec.md §9, without requiring a running daemon. It checks
// that project.vfs_prefix is set, that the manifest database and the
// CAS root exist, and that projectRoot is absolute and inside
// project.vfs_prefix; it does not probe
// the daemon socket or the VDir file. vriftd calls it at startup and
// logs each finding.
func Diagnose(cfg config.Config, projectRoot string) []DiagnosticFinding {
	var findings []DiagnosticFinding

	if cfg.Project.VFSPrefix == "" {
		findings = append(findings, DiagnosticFinding{
			Code:    vrerr.CodeVFSPrefixUnset,
			Message: "project.vfs_prefix is not set in any config layer",
		})
	}

	manifestPath := filepath.Join(projectRoot, stateDir, manifestDBName)
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		findings = append(findings, DiagnosticFinding{
			Code:    vrerr.CodeManifestNotFound,
			Message: "no manifest database found at " + manifestPath + "; run an initial scan",
		})
	}

	casRoot := cfg.Storage.TheSource
	if !filepath.IsAbs(casRoot) {
		casRoot = filepath.Join(projectRoot, casRoot)
	}
	if info, err := os.Stat(casRoot); err != nil || !info.IsDir() {
		findings = append(findings, DiagnosticFinding{
			Code:    vrerr.CodeCASUnreadable,
			Message: "cas root " + casRoot + " is missing or unreadable",
		})
	}

	if !filepath.IsAbs(projectRoot) {
		findings = append(findings, DiagnosticFinding{
			Code:    vrerr.CodeProjectOutsidePrefix,
			Message: "project root " + projectRoot + " must be an absolute path",
		})
	} else if cfg.Project.VFSPrefix != "" && !pathutil.HasPrefix(pathutil.Normalize(projectRoot), pathutil.Normalize(cfg.Project.VFSPrefix)) {
		findings = append(findings, DiagnosticFinding{
			Code:    vrerr.CodeProjectOutsidePrefix,
			Message: "project root " + projectRoot + " is outside project.vfs_prefix " + cfg.Project.VFSPrefix,
		})
	}

	return findings
}
