package bot

import (
	"context"
	"fmt"
)

func (d *Dispatcher) processFile(ctx context.Context, chatID int64, username string) {
	d.say(ctx, chatID, MsgIngestStarted)

	res, err := d.c.Ingester.Ingest(ctx, username)
	if err != nil {
		d.log.Warn(ctx, "ingest", "username", username, "error", err)
		d.say(ctx, chatID, userMessage(err, MsgIngestFailed))
		return
	}
	d.say(ctx, chatID, fmt.Sprintf(MsgIngestDone, len(res.Processed), len(res.Skipped), res.Labels))
}

func (d *Dispatcher) processForm(ctx context.Context, chatID int64, username string) {
	if form, ok, _ := d.c.Area.ActiveForm(username); ok {
		d.say(ctx, chatID, fmt.Sprintf(MsgProcessing, form))
	}

	if _, err := d.c.Pipeline.Process(ctx, username); err != nil {
		d.log.Warn(ctx, "process form", "username", username, "error", err)
		d.say(ctx, chatID, userMessage(err, MsgInternalError))
		return
	}
	d.say(ctx, chatID, MsgProcessed)
}

func (d *Dispatcher) getForm(ctx context.Context, chatID int64, username string) {
	d.say(ctx, chatID, MsgFilling)

	if _, err := d.c.Pipeline.Deliver(ctx, username, chatID, d.c.Transport); err != nil {
		d.log.Warn(ctx, "deliver form", "username", username, "error", err)
		d.say(ctx, chatID, userMessage(err, MsgInternalError))
		return
	}
	d.say(ctx, chatID, MsgDelivered)
}
