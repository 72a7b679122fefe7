package schedule

import (
	"fmt"

	"github.com/flemzord/chime/internal/storage"
)

// Render formats the message delivered when a reminder fires. The cron
// expression is echoed so recipients can tell which schedule produced
// the message.
func Render(job storage.ScheduledJob) string {
	return fmt.Sprintf("⏰ Periodic Reminder\n\n%s\n\n🕐 %s", job.Payload, job.Schedule)
}
