package mover

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

// csvKey identifies one file within one dupeguru group.
type csvKey struct {
	group string
	name  string
}

// PlanFromCSV reads a dupeguru results export and turns each
// (group, filename) cluster into a move task: the source is the copy in
// the shortest folder, the destination the one in the longest. Clusters
// whose copies share a folder produce no task.
func PlanFromCSV(r io.Reader) ([]Task, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, want := range []string{"Group ID", "Filename", "Folder"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("csv is missing the %q column", want)
		}
	}

	var order []csvKey
	folders := make(map[csvKey][]string)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		key := csvKey{group: row[col["Group ID"]], name: row[col["Filename"]]}
		if _, seen := folders[key]; !seen {
			order = append(order, key)
		}
		folders[key] = append(folders[key], row[col["Folder"]])
	}

	var tasks []Task
	for _, key := range order {
		copies := folders[key]
		src, dst := copies[0], copies[0]
		for _, f := range copies[1:] {
			if len(f) < len(src) {
				src = f
			}
			if len(f) > len(dst) {
				dst = f
			}
		}
		if src == dst {
			continue
		}
		tasks = append(tasks, Task{
			Group:  key.group,
			Source: filepath.Join(src, key.name),
			Dest:   filepath.Join(dst, key.name),
		})
	}
	return tasks, nil
}
