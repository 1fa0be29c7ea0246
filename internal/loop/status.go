package loop

import "time"

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Status 是循环的对外快照，HTTP 接口直接序列化它。
type Status struct {
	RunID         string    `json:"run_id,omitempty"`
	State         State     `json:"state"`
	Iteration     int       `json:"iteration"`
	Candidates    int       `json:"candidates"`
	Valid         int       `json:"valid"`
	ChampionID    string    `json:"champion_id,omitempty"`
	ChampionScore float64   `json:"champion_score"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	Error         string    `json:"error,omitempty"`
}
