package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/msgflux/internal/db"
	"github.com/stupiduntilnot/msgflux/internal/route"
)

type routeOptions struct {
	executionID string
	maxDepth    int
	jsonOut     bool
	noPayload   bool
}

func newRouteCmd(a *app) *cobra.Command {
	var opts routeOptions
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Print the stored route of an execution as a tree",
		Long: `Prints the lifecycle events of an execution with every recorded write
attached to the module invocation that made it. Writes are only present when
the run was exported with MSGFLUX_EXPORTER=sqlite.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.route(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.executionID, "execution", "", "execution id (default latest)")
	cmd.Flags().IntVarP(&opts.maxDepth, "level", "L", 0, "limit display depth (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "output JSON format")
	cmd.Flags().BoolVar(&opts.noPayload, "no-payload", false, "hide event payload details")
	return cmd
}

func (a *app) route(w io.Writer, opts routeOptions) error {
	database, err := db.OpenReadOnly(a.dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	root, err := loadRouteTree(database, opts.executionID)
	if err != nil {
		return err
	}
	if opts.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toJSONNode(root, 1, opts.maxDepth, opts.noPayload))
	}
	printTree(w, root, "", true, 1, opts.maxDepth, opts.noPayload)
	return nil
}

// node is either a lifecycle event or a route entry.
type node struct {
	Event    *db.Event
	Entry    *route.Entry
	payload  map[string]any
	Children []*node
}

func loadRouteTree(database *sql.DB, executionID string) (*node, error) {
	if executionID == "" {
		exec, err := db.LatestExecution(database)
		if err != nil {
			return nil, fmt.Errorf("find latest execution: %w", err)
		}
		executionID = exec.ExecutionID
	}
	rootID, err := db.RunRoot(database, executionID)
	if err != nil {
		return nil, err
	}
	events, err := db.EventSubtree(database, rootID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	entries, err := db.RouteEntries(database, executionID, "")
	if err != nil {
		return nil, fmt.Errorf("query route: %w", err)
	}
	root := buildTree(events, entries, rootID)
	if root == nil {
		return nil, fmt.Errorf("root event %d not found", rootID)
	}
	return root, nil
}

// buildTree links events by parent id and hangs each route entry under the
// latest module.started event of the writing module that is not newer than
// the write. Entries without a matching invocation go under the root.
func buildTree(events []db.Event, entries []route.Entry, rootID int64) *node {
	byID := make(map[int64]*node, len(events))
	invocations := make(map[string][]*node)
	for i := range events {
		n := &node{Event: &events[i], payload: decodePayload(events[i].Payload)}
		byID[n.Event.ID] = n
		if n.Event.EventType == db.EventModuleStarted {
			if module, ok := n.payload["module"].(string); ok {
				invocations[module] = append(invocations[module], n)
			}
		}
	}
	for _, n := range byID {
		ev := n.Event
		if ev.ParentID.Valid && ev.ParentID.Int64 != ev.ID {
			if parent, ok := byID[ev.ParentID.Int64]; ok {
				parent.Children = append(parent.Children, n)
			}
		}
	}
	root := byID[rootID]
	if root == nil {
		return nil
	}

	for i := range entries {
		entry := &entries[i]
		target := root
		if candidates := invocations[entry.Module]; len(candidates) > 0 {
			target = candidates[0]
			for _, c := range candidates[1:] {
				if c.Event.Timestamp <= entry.Timestamp.Unix() {
					target = c
				}
			}
		}
		target.Children = append(target.Children, &node{Entry: entry})
	}

	for _, n := range byID {
		sort.SliceStable(n.Children, func(i, j int) bool {
			return n.Children[i].sortKey() < n.Children[j].sortKey()
		})
	}
	return root
}

// sortKey keeps events in id order and places writes after the events of
// the same parent, in route order.
func (n *node) sortKey() int64 {
	if n.Entry != nil {
		return 1<<62 + n.Entry.Seq
	}
	return n.Event.ID
}

func decodePayload(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

// printTree renders the tree using box-drawing characters.
func printTree(w io.Writer, n *node, prefix string, isLast bool, depth, maxDepth int, noPayload bool) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatNode(n, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		if len(n.Children) > 0 {
			fmt.Fprintln(w, childPrefix+"└── [...]")
		}
		return
	}
	for i, child := range n.Children {
		printTree(w, child, childPrefix, i == len(n.Children)-1, depth+1, maxDepth, noPayload)
	}
}

// formatNode renders one line: "[id] timestamp  event_type  key=value ..."
// for events and "#seq op path" for writes.
func formatNode(n *node, noPayload bool) string {
	if n.Entry != nil {
		e := n.Entry
		line := fmt.Sprintf("#%d %s %s", e.Seq, e.Op, e.Path)
		if !noPayload {
			line += fmt.Sprintf("  at=%s", e.Timestamp.UTC().Format("15:04:05.000"))
			if e.HadPriorValue {
				line += "  overwrite=true"
			}
		}
		return line
	}

	ev := n.Event
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload || len(n.payload) == 0 {
		return line
	}
	keys := make([]string, 0, len(n.payload))
	for k := range n.payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf("  %s=%s", k, formatValue(n.payload[k]))
	}
	return line
}

// formatValue converts a payload value to a display string, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonNode struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Write     *route.Entry   `json:"write,omitempty"`
	Children  []jsonNode     `json:"children,omitempty"`
}

func toJSONNode(n *node, depth, maxDepth int, noPayload bool) jsonNode {
	var jn jsonNode
	if n.Entry != nil {
		jn.Write = n.Entry
	} else {
		jn.ID = n.Event.ID
		jn.Timestamp = n.Event.Timestamp
		jn.EventType = n.Event.EventType
		if !noPayload {
			jn.Payload = n.payload
		}
	}
	if maxDepth > 0 && depth >= maxDepth {
		return jn
	}
	for _, child := range n.Children {
		jn.Children = append(jn.Children, toJSONNode(child, depth+1, maxDepth, noPayload))
	}
	return jn
}
