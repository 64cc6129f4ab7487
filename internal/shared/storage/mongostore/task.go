package mongostore

import (
	"context"
	"time"

	"nervix-hub/internal/shared/model"
	"nervix-hub/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// TaskStore
// ============================================================================

func (s *Store) CreateTask(ctx context.Context, task *model.Task) error {
	return insertOne(ctx, s.col(ColTasks), task)
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return findOne[model.Task](ctx, s.col(ColTasks), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListTasks(ctx context.Context, tf storage.TaskFilter) ([]*model.Task, error) {
	filter := bson.D{}
	if tf.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: tf.Status})
	}
	if tf.RequesterID != "" {
		filter = append(filter, bson.E{Key: "requester_id", Value: tf.RequesterID})
	}
	if tf.AssignedTo != "" {
		filter = append(filter, bson.E{Key: "assigned_agent_id", Value: tf.AssignedTo})
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if tf.Limit > 0 {
		opts.SetLimit(int64(tf.Limit))
	}
	if tf.Offset > 0 {
		opts.SetSkip(int64(tf.Offset))
	}
	return findMany[model.Task](ctx, s.col(ColTasks), filter, opts)
}

func (s *Store) UpdateTask(ctx context.Context, task *model.Task) error {
	expect := task.Version
	task.Version++
	task.UpdatedAt = time.Now()
	if err := replaceVersioned(ctx, s.col(ColTasks), task.ID, expect, task); err != nil {
		task.Version = expect
		return err
	}
	return nil
}

func (s *Store) ListQueuedTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	// urgent 优先，同优先级按创建时间先到先得
	pipeline := []bson.D{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: model.TaskStatusQueued}}}},
		{{Key: "$addFields", Value: bson.D{{Key: "priority_rank", Value: bson.D{
			{Key: "$switch", Value: bson.D{
				{Key: "branches", Value: bson.A{
					bson.D{
						{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$priority", string(model.TaskPriorityUrgent)}}}},
						{Key: "then", Value: 0},
					},
					bson.D{
						{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$priority", string(model.TaskPriorityHigh)}}}},
						{Key: "then", Value: 1},
					},
					bson.D{
						{Key: "case", Value: bson.D{{Key: "$eq", Value: bson.A{"$priority", string(model.TaskPriorityNormal)}}}},
						{Key: "then", Value: 2},
					},
				}},
				{Key: "default", Value: 3},
			}},
		}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "priority_rank", Value: 1}, {Key: "created_at", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cursor, err := s.col(ColTasks).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	tasks := []*model.Task{}
	for cursor.Next(ctx) {
		var t model.Task
		if err := cursor.Decode(&t); err != nil {
			return nil, err
		}
		tasks = append(tasks, &t)
	}
	return tasks, cursor.Err()
}

func (s *Store) ListRunningTasksStartedBefore(ctx context.Context, cutoff time.Time) ([]*model.Task, error) {
	filter := bson.D{
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
			model.TaskStatusAssigned, model.TaskStatusInProgress,
		}}}},
		{Key: "started_at", Value: bson.D{
			{Key: "$ne", Value: nil},
			{Key: "$lt", Value: cutoff},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}})
	return findMany[model.Task](ctx, s.col(ColTasks), filter, opts)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColTasks), id)
}
