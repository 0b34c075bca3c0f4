package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mlevkov/tasksync/internal/models"
)

func today() string {
	return models.Now().Format("2006-01-02")
}

// Today prints the tasks selected for the current day, in position order.
func (a *App) Today(ctx context.Context) error {
	accountID, err := a.accountID(ctx)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	day := today()
	selections, err := a.store.Selections(nil).ListForDay(ctx, accountID, day)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}

	fmt.Printf("Selected for %s:\n", day)
	for _, s := range selections {
		task, err := a.store.Tasks(nil).GetByID(ctx, s.TaskID)
		if err != nil {
			// The task may not have synced to this device yet.
			fmt.Printf("%3d. %s (not synced)\n", s.Position, s.TaskID)
			continue
		}
		marker := " "
		if task.Status == models.TaskStatusDone {
			marker = "x"
		}
		fmt.Printf("%3d. [%s] %s\n", s.Position, marker, task.Title)
	}
	return nil
}

// Pick prompts for a task id and selects it for today. Picking a task
// twice is a no-op thanks to the duplicate collapse during sync.
func (a *App) Pick(ctx context.Context) error {
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

	day := today()
	existing, err := a.store.Selections(nil).ListForDay(ctx, accountID, day)
	if err != nil {
		log.Printf("error: %v", err)
		return err
	}
	for _, s := range existing {
		if s.TaskID == task.ID {
			fmt.Printf("Already selected for %s\n", day)
			return nil
		}
	}

	sel := models.NewDailySelection(accountID, a.deviceID, day, task.ID)
	sel.Position = len(existing) + 1
	if err := a.store.Selections(nil).Upsert(ctx, sel); err != nil {
		log.Printf("error: %v", err)
		return err
	}

	entry := models.NewTaskLog(accountID, a.deviceID, task.ID, "picked", day)
	if err := a.store.Logs(nil).Insert(ctx, entry); err != nil {
		log.Printf("error: %v", err)
		return err
	}

	fmt.Printf("Picked for %s: %s\n", day, task.Title)
	return nil
}
