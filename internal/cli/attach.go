package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mlevkov/tasksync/internal/attachments"
	"github.com/mlevkov/tasksync/internal/models"
)

// Attach uploads a file for a task through a presigned URL and records
// the storage key in the task log.
func (a *App) Attach(ctx context.Context) error {
	accountID, err := a.accountID(ctx)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	id, err := GetSimpleText(a.reader, "-Enter task id", os.Stdout)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	task, err := a.store.Tasks(nil).GetByID(ctx, id)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	path, err := GetSimpleText(a.reader, "-Enter file path", os.Stdout)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		log.Printf("error reading file: %v", err)
		return err
	}

	key, url, err := a.attachments.PresignedPutURL(ctx, accountID)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	if err := attachments.Upload(ctx, url, payload); err != nil {
		log.Printf("upload failed: %v", err)
		return err
	}

	entry := models.NewTaskLog(accountID, a.deviceID, task.ID, "attached", key)
	if err := a.store.Logs(nil).Insert(ctx, entry); err != nil {
		log.Printf("error: %v", err)
		return err
	}

	fmt.Printf("Attached %s to %s\n", key, task.Title)
	return nil
}
