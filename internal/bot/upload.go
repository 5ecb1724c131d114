package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/formbot/internal/common"
	"github.com/dmitrijs2005/formbot/internal/dialog"
	"github.com/dmitrijs2005/formbot/internal/events"
	"github.com/dmitrijs2005/formbot/internal/staging"
)

func (d *Dispatcher) files(ctx context.Context, chatID int64, username string) {
	names, err := d.c.Area.ListVault(username)
	if err != nil {
		d.log.Error(ctx, "list vault", "username", username, "error", err)
		d.say(ctx, chatID, MsgInternalError)
		return
	}
	list := MsgVaultEmpty
	if len(names) > 0 {
		list = numbered(names)
	}

	d.switchUpload(ctx, chatID, dialog.UploadDocuments)
	d.say(ctx, chatID, fmt.Sprintf(MsgVaultHeader, list))
}

func (d *Dispatcher) form(ctx context.Context, chatID int64, username string) {
	d.switchUpload(ctx, chatID, dialog.UploadForm)
	if err := d.c.Area.ClearUploadPurpose(chatID, staging.PurposeForm); err != nil {
		d.log.Warn(ctx, "clear form staging", "chat_id", chatID, "error", err)
	}
	d.say(ctx, chatID, MsgSendForm)
}

// switchUpload opens mode and discards what was staged for the other one.
func (d *Dispatcher) switchUpload(ctx context.Context, chatID int64, mode dialog.UploadMode) {
	other := staging.PurposeForm
	if mode == dialog.UploadForm {
		other = staging.PurposeDocuments
	}
	if err := d.c.Area.ClearUploadPurpose(chatID, other); err != nil {
		d.log.Warn(ctx, "clear upload staging", "chat_id", chatID, "error", err)
	}
	d.machine.OpenUpload(chatID, mode)
}

func (d *Dispatcher) handleFile(ctx context.Context, chatID int64, username string, ref FileRef) {
	if username == "" {
		d.say(ctx, chatID, MsgLoginFirst)
		return
	}

	name := ref.Name
	if name == "" {
		name = "file-" + ref.ID
	}
	if ref.Size > d.c.MaxUpload {
		d.say(ctx, chatID, fmt.Sprintf(MsgFileTooLarge, name))
		return
	}

	switch d.machine.UploadMode(chatID) {
	case dialog.UploadDocuments:
		if staged, ok := d.stage(ctx, chatID, staging.PurposeDocuments, name, ref); ok {
			d.say(ctx, chatID, fmt.Sprintf(MsgFileReceived, staged))
		}
	case dialog.UploadForm:
		if !staging.IsPDF(name) && !strings.Contains(ref.MimeType, "pdf") {
			d.say(ctx, chatID, MsgNotPDF)
			return
		}
		if s, _ := d.machine.Snapshot(chatID); s.FormReceived {
			d.say(ctx, chatID, MsgFormAlreadyReceived)
			return
		}
		if !staging.IsPDF(name) {
			name += ".pdf"
		}
		staged, ok := d.stage(ctx, chatID, staging.PurposeForm, name, ref)
		if !ok {
			return
		}
		d.machine.MarkFormReceived(chatID)
		d.say(ctx, chatID, fmt.Sprintf(MsgFormReceived, staged))
	default:
		d.say(ctx, chatID, MsgUploadNotOpen)
	}
}

func (d *Dispatcher) stage(ctx context.Context, chatID int64, purpose staging.Purpose, name string, ref FileRef) (string, bool) {
	data, err := d.c.Transport.Fetch(ctx, ref)
	if err != nil {
		d.log.Warn(ctx, "fetch upload", "chat_id", chatID, "file", name, "error", err)
		d.say(ctx, chatID, fmt.Sprintf(MsgDownloadFailed, name))
		return "", false
	}
	if int64(len(data)) > d.c.MaxUpload {
		d.say(ctx, chatID, fmt.Sprintf(MsgFileTooLarge, name))
		return "", false
	}

	staged, err := d.c.Area.StageUpload(chatID, purpose, name, data)
	if err != nil {
		d.log.Error(ctx, "stage upload", "chat_id", chatID, "file", name, "error", err)
		d.say(ctx, chatID, MsgInternalError)
		return "", false
	}
	return staged, true
}

func (d *Dispatcher) submitFiles(ctx context.Context, chatID int64, username string) {
	moved, err := d.c.Area.CommitUploadsToVault(chatID, username)
	if errors.Is(err, common.ErrPrecondition) {
		d.say(ctx, chatID, MsgNoFilesStaged)
		return
	}
	if err != nil {
		d.log.Error(ctx, "commit uploads", "chat_id", chatID, "username", username, "error", err)
		d.say(ctx, chatID, MsgInternalError)
		return
	}

	d.machine.CloseUpload(chatID)
	d.say(ctx, chatID, fmt.Sprintf(MsgFilesSaved, numbered(moved)))
	d.publish(ctx, events.TypeFilesStored, chatID, username, map[string]string{"files": strconv.Itoa(len(moved))})
}

func (d *Dispatcher) submitForm(ctx context.Context, chatID int64, username string) {
	form, err := d.c.Area.CommitFormToVault(chatID, username)
	if errors.Is(err, common.ErrPrecondition) {
		d.say(ctx, chatID, MsgNoFormStaged)
		return
	}
	if err != nil {
		d.log.Error(ctx, "commit form", "chat_id", chatID, "username", username, "error", err)
		d.say(ctx, chatID, MsgInternalError)
		return
	}

	d.machine.CloseUpload(chatID)
	d.say(ctx, chatID, fmt.Sprintf(MsgFormSaved, form))
	d.publish(ctx, events.TypeFormStored, chatID, username, map[string]string{"form": form})
}
