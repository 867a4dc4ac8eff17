package sim

import (
	"encoding/json"
	"fmt"
	"strings"
)

// export renders the session transcript in the requested format: "md" for a
// human-readable markdown log, "json" for the structured session object.
func (ss *simSession) export(format string) (string, error) {
	sess := ss.snapshot()

	switch format {
	case "json":
		data, err := json.MarshalIndent(sess, "", "  ")
		if err != nil {
			return "", fmt.Errorf("sim: export: %w", err)
		}
		return string(data), nil

	case "md", "":
		var b strings.Builder
		fmt.Fprintf(&b, "# Exploration transcript — %s\n\n", sess.AgentName)
		fmt.Fprintf(&b, "Session `%s`, started %s.\n\n", sess.ID, sess.StartedAt.Format("2006-01-02 15:04:05 MST"))
		if sess.Goal != nil {
			fmt.Fprintf(&b, "Goal: **%s** (%d/%d)\n\n", sess.Goal.Title, sess.Goal.Current, sess.Goal.Target)
		}
		for _, ev := range sess.Events {
			room := ""
			if ev.LocationName != "" {
				room = " @ " + ev.LocationName
			}
			fmt.Fprintf(&b, "- `%s` [%s]%s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, room, ev.Description)
		}
		if sess.EndReason != "" {
			fmt.Fprintf(&b, "\nEnded: %s\n", sess.EndReason)
		}
		return b.String(), nil

	default:
		return "", fmt.Errorf("sim: unsupported export format %q", format)
	}
}
