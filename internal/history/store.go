package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"

	"alphaforge/internal/validate"
)

type runModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	StartedAt time.Time
	EndedAt   *time.Time
	Config    datatypes.JSON
}

func (runModel) TableName() string { return "runs" }

type iterationModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"size:64;uniqueIndex:idx_run_iter_cand,priority:1"`
	Iteration   int    `gorm:"uniqueIndex:idx_run_iter_cand,priority:2"`
	CandidateID string `gorm:"size:64;uniqueIndex:idx_run_iter_cand,priority:3"`
	Source      string `gorm:"size:16;index"`
	Template    string `gorm:"size:64"`
	Provider    string `gorm:"size:64"`

	Params datatypes.JSON
	Code   string

	Valid         bool `gorm:"index"`
	FailedLayer   string
	FailureDetail string
	Layers        datatypes.JSON

	Score    float64 `gorm:"index"`
	Stats    datatypes.JSON
	Champion bool

	CreatedAt time.Time
}

func (iterationModel) TableName() string { return "iterations" }

// Store 把运行与迭代记录落进 SQLite。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: 打开数据库失败: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	if err := db.AutoMigrate(&runModel{}, &iterationModel{}); err != nil {
		return nil, fmt.Errorf("history: 迁移表结构失败: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveRun(run *Run) error {
	m := runModel{ID: run.ID, StartedAt: run.StartedAt, EndedAt: run.EndedAt}
	if run.Config != nil {
		b, err := json.Marshal(run.Config)
		if err != nil {
			return err
		}
		m.Config = b
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"ended_at", "config"}),
	}).Create(&m).Error
}

func (s *Store) SaveIteration(rec *IterationRecord) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}, {Name: "iteration"}, {Name: "candidate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"valid", "failed_layer", "failure_detail", "layers", "score", "stats", "champion",
		}),
	}).Create(m).Error
}

// Champion 返回一次运行里得分最高的有效候选。
func (s *Store) Champion(runID string) (*IterationRecord, error) {
	var m iterationModel
	err := s.db.Where("run_id = ? AND valid = ?", runID, true).
		Order("score DESC").Order("iteration ASC").First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromModel(&m)
}

func (s *Store) Iterations(runID string, limit, offset int) ([]*IterationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var ms []iterationModel
	err := s.db.Where("run_id = ?", runID).
		Order("iteration ASC").Order("created_at ASC").
		Limit(limit).Offset(offset).Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*IterationRecord, 0, len(ms))
	for i := range ms {
		rec, err := fromModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Iteration(runID string, n int) ([]*IterationRecord, error) {
	var ms []iterationModel
	err := s.db.Where("run_id = ? AND iteration = ?", runID, n).
		Order("created_at ASC").Find(&ms).Error
	if err != nil {
		return nil, err
	}
	out := make([]*IterationRecord, 0, len(ms))
	for i := range ms {
		rec, err := fromModel(&ms[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Summarize(runID string) (*Summary, error) {
	var run runModel
	if err := s.db.First(&run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	sum := &Summary{RunID: runID, StartedAt: run.StartedAt, BySource: map[string]int{}}

	type srcCount struct {
		Source string
		N      int
	}
	var counts []srcCount
	if err := s.db.Model(&iterationModel{}).
		Select("source, count(*) as n").Where("run_id = ?", runID).
		Group("source").Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		sum.BySource[c.Source] = c.N
		sum.Iterations += c.N
	}

	var valid int64
	if err := s.db.Model(&iterationModel{}).
		Where("run_id = ? AND valid = ?", runID, true).Count(&valid).Error; err != nil {
		return nil, err
	}
	sum.Valid = int(valid)

	if champ, err := s.Champion(runID); err != nil {
		return nil, err
	} else if champ != nil {
		sum.BestScore = champ.Score
	}
	return sum, nil
}

func toModel(rec *IterationRecord) (*iterationModel, error) {
	m := &iterationModel{
		RunID:         rec.RunID,
		Iteration:     rec.Iteration,
		CandidateID:   rec.CandidateID,
		Source:        rec.Source,
		Template:      rec.Template,
		Provider:      rec.Provider,
		Code:          rec.Code,
		Valid:         rec.Valid,
		FailedLayer:   rec.FailedLayer,
		FailureDetail: rec.FailureDetail,
		Score:         rec.Score,
		Champion:      rec.Champion,
		CreatedAt:     rec.CreatedAt,
	}
	var err error
	if m.Params, err = marshalJSON(rec.Params); err != nil {
		return nil, err
	}
	if m.Layers, err = marshalJSON(rec.Layers); err != nil {
		return nil, err
	}
	if m.Stats, err = marshalJSON(rec.Stats); err != nil {
		return nil, err
	}
	return m, nil
}

func fromModel(m *iterationModel) (*IterationRecord, error) {
	rec := &IterationRecord{
		RunID:         m.RunID,
		Iteration:     m.Iteration,
		CandidateID:   m.CandidateID,
		Source:        m.Source,
		Template:      m.Template,
		Provider:      m.Provider,
		Code:          m.Code,
		Valid:         m.Valid,
		FailedLayer:   m.FailedLayer,
		FailureDetail: m.FailureDetail,
		Score:         m.Score,
		Champion:      m.Champion,
		CreatedAt:     m.CreatedAt,
	}
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &rec.Params); err != nil {
			return nil, err
		}
	}
	if len(m.Layers) > 0 {
		var layers []validate.LayerResult
		if err := json.Unmarshal(m.Layers, &layers); err != nil {
			return nil, err
		}
		rec.Layers = layers
	}
	if len(m.Stats) > 0 {
		if err := json.Unmarshal(m.Stats, &rec.Stats); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
