package alerts

// NopNotifier drops every alert.
type NopNotifier struct{}

func (NopNotifier) Notify(Alert) {}

// truncateSubject shortens an entity key for display in notifications.
func truncateSubject(s string) string {
	if len(s) <= 24 {
		return s
	}
	return s[:24] + "..."
}
