package servicenow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const taskTablePath = "/api/now/table/task"

// ErrRecordNotFound is returned when a task number matches no record.
var ErrRecordNotFound = errors.New("servicenow: no task record with that number")

var sysIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// IsSysID reports whether s looks like a record sys_id (32 hex characters).
func IsSysID(s string) bool {
	return sysIDPattern.MatchString(s)
}

// LookupTaskSysID resolves a task number such as INC0010001 to its sys_id
// through the task table, which every task-derived table extends.
func (c *Client) LookupTaskSysID(ctx context.Context, number string) (string, error) {
	c.logger.Debug("looking up task number", slog.String("number", number))

	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   taskTablePath,
		Query: url.Values{
			"number":         {number},
			"sysparm_fields": {"sys_id"},
			"sysparm_limit":  {"1"},
		},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var env recordListEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("servicenow: decoding task lookup: %w", err)
	}

	if len(env.Result) == 0 || env.Result[0].SysID == "" {
		return "", fmt.Errorf("%w: %s", ErrRecordNotFound, number)
	}

	return env.Result[0].SysID, nil
}

// ResolveRecord returns record unchanged when it is already a sys_id and
// otherwise treats it as a task number.
func (c *Client) ResolveRecord(ctx context.Context, record string) (string, error) {
	record = strings.TrimSpace(record)
	if IsSysID(record) {
		return record, nil
	}

	if record == "" {
		return "", fmt.Errorf("servicenow: record identifier is empty")
	}

	sysID, err := c.LookupTaskSysID(ctx, record)
	if err != nil {
		return "", err
	}

	c.logger.Info("resolved task number",
		slog.String("number", record),
		slog.String("sys_id", sysID),
	)

	return sysID, nil
}
