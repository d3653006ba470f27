package artifacts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gh-nvat/allure-pr-report/src/pkg/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "artifacts")

// asciiSpace matches what counts as blank content; Unicode spaces are content
const asciiSpace = " \t\n\r\v\f"

// Collect reads the top level of dir and encodes every non-empty regular
// file. Empty or whitespace-only files and non-regular entries are skipped.
func Collect(dir string) ([]models.ArtifactRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read results directory")
	}

	records := []models.ArtifactRecord{}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		// Stat follows symlinks so linked result files are still collected
		info, err := os.Stat(path)
		if err != nil {
			if entry.Type()&fs.ModeSymlink != 0 && errors.Is(err, fs.ErrNotExist) {
				logger.WithField("path", path).Info("Directory skipped")
				continue
			}
			return nil, errors.Wrapf(err, "failed to stat %s", path)
		}
		if !info.Mode().IsRegular() {
			logger.WithField("path", path).Info("Directory skipped")
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		if len(bytes.Trim(content, asciiSpace)) == 0 {
			logger.WithField("path", path).Info("Empty file skipped")
			continue
		}

		records = append(records, models.ArtifactRecord{
			FileName:      entry.Name(),
			ContentBase64: base64.StdEncoding.EncodeToString(content),
		})
	}

	logger.WithField("dir", dir).WithField("files", len(records)).Info("Collected result files")
	return records, nil
}

// BuildPayload collects dir and serializes the send-results request body
func BuildPayload(dir string) ([]byte, int, error) {
	records, err := Collect(dir)
	if err != nil {
		return nil, 0, err
	}
	payload, err := json.Marshal(models.NewReportPayload(records))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to marshal results payload")
	}
	return payload, len(records), nil
}
