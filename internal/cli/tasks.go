package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mlevkov/tasksync/internal/models"
)

// Add prompts for a title and creates a task.
func (a *App) Add(ctx context.Context) error {
	accountID, err := a.accountID(ctx)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	title, err := GetSimpleText(a.reader, "-Enter task title", os.Stdout)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	task := models.NewTask(accountID, a.deviceID, title)
	entry := models.NewTaskLog(accountID, a.deviceID, task.ID, "created", title)

	if err := a.store.Tasks(nil).Upsert(ctx, task); err != nil {
		log.Printf("error: %v", err)
		return err
	}
	if err := a.store.Logs(nil).Insert(ctx, entry); err != nil {
		log.Printf("error: %v", err)
		return err
	}

	fmt.Printf("Added %s  %s\n", task.ID, task.Title)
	return nil
}

// List prints active (non-deleted) tasks.
func (a *App) List(ctx context.Context) error {
	accountID, err := a.accountID(ctx)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	tasks, err := a.store.Tasks(nil).ListActive(ctx, accountID)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	for _, t := range tasks {
		marker := " "
		if t.Status == models.TaskStatusDone {
			marker = "x"
		}
		fmt.Printf("[%s] %s  %s\n", marker, t.ID, t.Title)
	}
	return nil
}

// Done prompts for a task id and marks the task completed.
func (a *App) Done(ctx context.Context) error {
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

	task.Status = models.TaskStatusDone
	task.Touch(a.deviceID, models.Now())
	if err := a.store.Tasks(nil).Upsert(ctx, task); err != nil {
		log.Printf("error: %v", err)
		return err
	}

	entry := models.NewTaskLog(accountID, a.deviceID, task.ID, "completed", "")
	if err := a.store.Logs(nil).Insert(ctx, entry); err != nil {
		log.Printf("error: %v", err)
		return err
	}

	fmt.Printf("Done: %s\n", task.Title)
	return nil
}
