package trust

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
)

// Audit file names written by WriteAudit.
const (
	UsedFile       = "used_data.csv"
	EliminatedFile = "eliminated_data.csv"
	ManifestFile   = "manifest.json"
)

// auditFiles are the files a manifest must cover, exactly.
var auditFiles = []string{UsedFile, EliminatedFile}

// Manifest describes one participant's audit export.
type Manifest struct {
	Participant string            `json:"participant"`
	CreatedAt   time.Time         `json:"created_at"`
	Accepted    int               `json:"accepted"`
	Rejected    int               `json:"rejected"`
	Checksums   map[string]string `json:"checksums"` // Checksums maps file name to blake3 hex digest
}

// WriteAudit exports a filter result into dir: the accepted rows with their
// trust weights, the rejected rows with their reasons, and a manifest.
func WriteAudit(dir, participant string, res Result) (Manifest, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Manifest{}, fmt.Errorf("create audit dir:\n%w", err)
	}

	used := Dataset{Columns: append(append([]string{}, res.Columns...), "trust_weight")}
	for i, row := range res.Accepted {
		w := strconv.FormatFloat(res.Weights[i], 'f', 6, 64)
		used.Rows = append(used.Rows, append(append([]string{}, row...), w))
	}

	eliminated := Dataset{Columns: append(append([]string{}, res.Columns...), "reason")}
	for _, rej := range res.Rejected {
		eliminated.Rows = append(eliminated.Rows, append(append([]string{}, rej.Values...), rej.Reason))
	}

	m := Manifest{
		Participant: participant,
		CreatedAt:   time.Now().UTC(),
		Accepted:    len(res.Accepted),
		Rejected:    len(res.Rejected),
		Checksums:   make(map[string]string, 2),
	}

	for name, ds := range map[string]Dataset{UsedFile: used, EliminatedFile: eliminated} {
		var buf bytes.Buffer
		if err := WriteCSV(&buf, ds); err != nil {
			return Manifest{}, fmt.Errorf("encode %s:\n%w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0644); err != nil {
			return Manifest{}, fmt.Errorf("write %s:\n%w", name, err)
		}

		sum := blake3.Sum256(buf.Bytes())
		m.Checksums[name] = hex.EncodeToString(sum[:])
	}

	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest:\n%w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return Manifest{}, fmt.Errorf("write manifest:\n%w", err)
	}

	return m, nil
}

// VerifyAudit recomputes the checksums of an export in dir. The manifest
// must list exactly the used and eliminated files.
func VerifyAudit(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest:\n%w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest:\n%w", err)
	}

	if len(m.Checksums) != len(auditFiles) {
		return Manifest{}, fmt.Errorf("%w: manifest lists %d files, want %d", ErrAuditTampered, len(m.Checksums), len(auditFiles))
	}

	for _, name := range auditFiles {
		want, ok := m.Checksums[name]
		if !ok {
			return Manifest{}, fmt.Errorf("%w: manifest has no checksum for %s", ErrAuditTampered, name)
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return Manifest{}, fmt.Errorf("read %s:\n%w", name, err)
		}

		sum := blake3.Sum256(content)
		if got := hex.EncodeToString(sum[:]); got != want {
			return Manifest{}, fmt.Errorf("%w: %s checksum %s, manifest %s", ErrAuditTampered, name, got[:12], want)
		}
	}

	return m, nil
}
