// Package staging owns the directory layout files move through on their way
// from a chat upload to a filled form:
//
//	uploads/<chat>/<purpose>/     files received during an open upload dialogue
//	vault/<username>/             committed source documents (accumulating)
//	forms/<username>/             the single active PDF form
//	work/<username>/              <base>-fields.json, <base>-values.json
//	labels/<username>-labels.json label set produced by ingestion
//	delivery/<username>/          <base>-filled.pdf awaiting delivery
//	scratch/<username>/           ingestion rasters, always removed
//
// Missing directories read as empty. Moves go through filex.MoveFile so a
// file is never missing from both places.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/filex"
)

// Purpose separates the two kinds of upload dialogue.
type Purpose string

const (
	PurposeDocuments Purpose = "documents"
	PurposeForm      Purpose = "form"
)

type Area struct {
	root string
}

func New(root string) *Area {
	return &Area{root: root}
}

func (a *Area) Root() string { return a.root }

// Ensure creates path if needed. Paths outside the area are refused.
func (a *Area) Ensure(path string) error {
	rel, err := filepath.Rel(a.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s is outside %s: %w", path, a.root, common.ErrValidation)
	}
	_, err = filex.EnsureDir(path)
	return err
}

func (a *Area) UploadRoot(chatID int64) string {
	return filepath.Join(a.root, "uploads", strconv.FormatInt(chatID, 10))
}

func (a *Area) UploadDir(chatID int64, purpose Purpose) string {
	return filepath.Join(a.UploadRoot(chatID), string(purpose))
}

func (a *Area) VaultDir(username string) string {
	return filepath.Join(a.root, "vault", username)
}

func (a *Area) FormDir(username string) string {
	return filepath.Join(a.root, "forms", username)
}

func (a *Area) WorkDir(username string) string {
	return filepath.Join(a.root, "work", username)
}

func (a *Area) DeliveryDir(username string) string {
	return filepath.Join(a.root, "delivery", username)
}

func (a *Area) ScratchDir(username string) string {
	return filepath.Join(a.root, "scratch", username)
}

func (a *Area) LabelsPath(username string) string {
	return filepath.Join(a.root, "labels", username+"-labels.json")
}

func (a *Area) FieldsPath(username, base string) string {
	return filepath.Join(a.WorkDir(username), base+"-fields.json")
}

func (a *Area) ValuesPath(username, base string) string {
	return filepath.Join(a.WorkDir(username), base+"-values.json")
}

func (a *Area) FilledPath(username, base string) string {
	return filepath.Join(a.DeliveryDir(username), base+"-filled.pdf")
}

// BaseName strips the extension: "w4.pdf" -> "w4".
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// SanitizeName reduces an uploaded file name to a bare base name.
func SanitizeName(name string) (string, error) {
	clean := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if clean == "" || clean == "." || clean == ".." || clean == "/" {
		return "", fmt.Errorf("invalid file name %q: %w", name, common.ErrValidation)
	}
	return clean, nil
}

func checkSegment(username string) error {
	if username == "" || username != filepath.Base(username) || username == "." || username == ".." {
		return fmt.Errorf("invalid username %q: %w", username, common.ErrValidation)
	}
	return nil
}

// IsPDF reports whether name has a .pdf extension, any case.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func (a *Area) ListVault(username string) ([]string, error) {
	if err := checkSegment(username); err != nil {
		return nil, err
	}
	return filex.ListFiles(a.VaultDir(username))
}

func (a *Area) ListForms(username string) ([]string, error) {
	if err := checkSegment(username); err != nil {
		return nil, err
	}
	return filex.ListFiles(a.FormDir(username))
}

func (a *Area) ListUploadStaging(chatID int64, purpose Purpose) ([]string, error) {
	return filex.ListFiles(a.UploadDir(chatID, purpose))
}

// StageUpload writes data into the upload staging of chatID, creating the
// directory when needed. It returns the sanitized name used.
func (a *Area) StageUpload(chatID int64, purpose Purpose, name string, data []byte) (string, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	if err := filex.WriteFileAtomic(filepath.Join(a.UploadDir(chatID, purpose), clean), data, 0o640); err != nil {
		return "", fmt.Errorf("stage %s: %w", clean, err)
	}
	return clean, nil
}

// CommitUploadsToVault moves every staged document of chatID into the vault
// of username, replacing files of the same name, and returns the names.
func (a *Area) CommitUploadsToVault(chatID int64, username string) ([]string, error) {
	if err := checkSegment(username); err != nil {
		return nil, err
	}

	src := a.UploadDir(chatID, PurposeDocuments)
	names, err := filex.ListFiles(src)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no files staged: %w", common.ErrPrecondition)
	}

	dst := a.VaultDir(username)
	moved := make([]string, 0, len(names))
	for _, n := range names {
		if err := filex.MoveFile(filepath.Join(src, n), filepath.Join(dst, n)); err != nil {
			return moved, fmt.Errorf("commit %s: %w", n, err)
		}
		moved = append(moved, n)
	}
	return moved, nil
}

// CommitFormToVault makes the staged PDF of chatID the only active form of
// username. The previous form and everything derived from it (work area,
// pending delivery) is cleared first.
func (a *Area) CommitFormToVault(chatID int64, username string) (string, error) {
	if err := checkSegment(username); err != nil {
		return "", err
	}

	src := a.UploadDir(chatID, PurposeForm)
	names, err := filex.ListFiles(src)
	if err != nil {
		return "", err
	}
	var form string
	for _, n := range names {
		if IsPDF(n) {
			form = n
			break
		}
	}
	if form == "" {
		return "", fmt.Errorf("no PDF form staged: %w", common.ErrPrecondition)
	}

	for _, dir := range []string{a.FormDir(username), a.WorkDir(username), a.DeliveryDir(username)} {
		if err := filex.ClearDir(dir); err != nil {
			return "", err
		}
	}
	if err := filex.MoveFile(filepath.Join(src, form), filepath.Join(a.FormDir(username), form)); err != nil {
		return "", fmt.Errorf("commit form %s: %w", form, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return form, fmt.Errorf("clear form staging: %w", err)
	}
	return form, nil
}

// ActiveForm returns the lexicographically first PDF in the form vault.
func (a *Area) ActiveForm(username string) (string, bool, error) {
	names, err := a.ListForms(username)
	if err != nil {
		return "", false, err
	}
	for _, n := range names {
		if IsPDF(n) {
			return n, true, nil
		}
	}
	return "", false, nil
}

// ActiveFormPath is ActiveForm joined with the form directory.
func (a *Area) ActiveFormPath(username string) (string, bool, error) {
	name, ok, err := a.ActiveForm(username)
	if !ok || err != nil {
		return "", ok, err
	}
	return filepath.Join(a.FormDir(username), name), true, nil
}

// ClearUploadStaging drops everything staged by chatID, for every purpose.
func (a *Area) ClearUploadStaging(chatID int64) error {
	return os.RemoveAll(a.UploadRoot(chatID))
}

// ClearUploadPurpose drops what chatID staged for one purpose.
func (a *Area) ClearUploadPurpose(chatID int64, purpose Purpose) error {
	return os.RemoveAll(a.UploadDir(chatID, purpose))
}

// ClearAllUploads drops the upload staging of every chat. Upload dialogues
// do not survive a restart, so neither does what they staged.
func (a *Area) ClearAllUploads() error {
	return os.RemoveAll(filepath.Join(a.root, "uploads"))
}

func (a *Area) ClearWorkArea(username string) error {
	if err := checkSegment(username); err != nil {
		return err
	}
	return filex.ClearDir(a.WorkDir(username))
}

func (a *Area) ClearDelivery(username string) error {
	if err := checkSegment(username); err != nil {
		return err
	}
	return filex.ClearDir(a.DeliveryDir(username))
}

func (a *Area) ClearScratch(username string) error {
	if err := checkSegment(username); err != nil {
		return err
	}
	return os.RemoveAll(a.ScratchDir(username))
}

// ProvisionVault creates the vault directory of a newly verified user.
func (a *Area) ProvisionVault(username string) error {
	if err := checkSegment(username); err != nil {
		return err
	}
	return a.Ensure(a.VaultDir(username))
}

// HasLabels reports whether ingestion produced a label set for username.
func (a *Area) HasLabels(username string) bool {
	return filex.Exists(a.LabelsPath(username))
}
