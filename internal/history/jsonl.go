package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONL 是迭代记录的追加式镜像，方便直接 tail / jq 查看。
type JSONL struct {
	mu sync.Mutex
	f  *os.File
}

func OpenJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, fmt.Errorf("history: jsonl 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONL{f: f}, nil
}

// SaveRun 在镜像文件里没有对应物，留空以便与 SQLite store 共用记录接口。
func (w *JSONL) SaveRun(*Run) error { return nil }

func (w *JSONL) SaveIteration(rec *IterationRecord) error { return w.Append(rec) }

func (w *JSONL) Append(rec *IterationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func (w *JSONL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadJSONL 读回整个文件，跳过无法解析的行。
func ReadJSONL(path string) ([]*IterationRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []*IterationRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec IterationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, scanner.Err()
}
