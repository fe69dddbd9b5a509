// SPDX-License-Identifier: MIT

package crawljob

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ContentType is the MIME type of the wire format.
const ContentType = "application/x-crawljob"

// Serialize renders the job in its canonical wire form: a comment header,
// one text= line per URL, then the metadata keys in fixed order.
func Serialize(j *Job) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# crawljob %s\n", j.ID)
	fmt.Fprintf(&b, "# created %s\n", j.CreatedAt.UTC().Format(time.RFC3339))
	for _, u := range j.URLs {
		fmt.Fprintf(&b, "text=%s\n", u)
	}
	fmt.Fprintf(&b, "packageName=%s\n", j.PackageName)
	if j.SourceURL != "" {
		fmt.Fprintf(&b, "comment=%s\n", j.SourceURL)
	}
	fmt.Fprintf(&b, "autoStart=%s\n", boolWord(j.AutoStart))
	fmt.Fprintf(&b, "priority=%s\n", j.Priority)
	fmt.Fprintf(&b, "enabled=%s\n", boolWord(true))
	fmt.Fprintf(&b, "chunks=0\n")
	return []byte(b.String())
}

// Parse reads the wire form back into a job. IDs and timestamps are carried
// in the comment header; unknown keys are ignored.
func Parse(data []byte) (*Job, error) {
	job := &Job{Priority: PriorityDefault}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			parseHeaderComment(job, strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("crawljob: malformed line %q", line)
		}
		switch key {
		case "text":
			job.URLs = append(job.URLs, value)
		case "packageName":
			job.PackageName = value
		case "comment":
			job.SourceURL = value
		case "autoStart":
			job.AutoStart = parseBoolWord(value)
		case "priority":
			job.Priority = Priority(value)
		case "enabled", "chunks":
			// accepted, not modelled
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if job.PackageName == "" || len(job.URLs) == 0 {
		return nil, fmt.Errorf("crawljob: incomplete job")
	}
	return job, nil
}

func parseHeaderComment(job *Job, comment string) {
	fields := strings.Fields(comment)
	if len(fields) != 2 {
		return
	}
	switch fields[0] {
	case "crawljob":
		job.ID = fields[1]
	case "created":
		if ts, err := time.Parse(time.RFC3339, fields[1]); err == nil {
			job.CreatedAt = ts
		}
	}
}

func boolWord(v bool) string {
	return strings.ToUpper(strconv.FormatBool(v))
}

func parseBoolWord(s string) bool {
	return strings.EqualFold(s, "true")
}
