package service

import (
	"errors"
	"fmt"

	"tubeforge/app/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errStaleTask 带状态条件的更新没有命中，说明状态已被其他进程修改
var errStaleTask = errors.New("任务状态已被其他进程修改")

// lockTask 在事务中加行锁读取任务
func lockTask(tx *gorm.DB, id uint) (*model.Task, error) {
	var task model.Task
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// saveTaskState 写回状态相关列，以 from 状态作为并发保护条件
func saveTaskState(tx *gorm.DB, task *model.Task, from model.TaskStatus) error {
	res := tx.Model(task).
		Where("status = ?", from).
		Select(model.StateColumns).
		Updates(task)
	if res.Error != nil {
		return fmt.Errorf("更新任务状态失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errStaleTask
	}
	return nil
}
