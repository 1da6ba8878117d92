package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"feedsync/pkg/logger"
	"feedsync/pkg/metrics"
)

var (
	ErrQueueFull   = errors.New("worker queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task 后台任务. Run is retried up to MaxRetry times; once it gives up,
// OnFailure receives the last error.
type Task struct {
	Name      string
	Ctx       context.Context
	Run       func(ctx context.Context) error
	OnFailure func(err error)
	MaxRetry  int
	Retry     int // 已重试次数
}

func (t Task) context() context.Context {
	if t.Ctx == nil {
		return context.Background()
	}
	return t.Ctx
}

type WorkerPool struct {
	TaskQueue  chan Task
	RetryQueue chan Task // 重试队列
	WorkerNum  int
	RetryDelay time.Duration

	metrics *metrics.MetricsCollector
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	// mu 保证 Stop 之后不再有任务入队, 排空时不会漏掉
	mu      sync.RWMutex
	stopped bool
}

func NewWorkerPool(workerNum, bufferSize int, retryDelay time.Duration, collector *metrics.MetricsCollector) *WorkerPool {
	if workerNum < 1 {
		workerNum = 1
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	retrySize := bufferSize / 2
	if retrySize < 1 {
		retrySize = 1
	}
	return &WorkerPool{
		TaskQueue:  make(chan Task, bufferSize),
		RetryQueue: make(chan Task, retrySize),
		WorkerNum:  workerNum,
		RetryDelay: retryDelay,
		metrics:    collector,
		stop:       make(chan struct{}),
	}
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	// 启动重试处理协程
	p.wg.Add(1)
	go p.retryWorker()
	logger.Log.Info("Worker pool started", zap.Int("workers", p.WorkerNum))
}

// Stop halts the workers and fails every task still queued with
// ErrPoolStopped.
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.stop)
		p.mu.Unlock()
		p.wg.Wait()
		for {
			select {
			case task := <-p.TaskQueue:
				p.logFailedTask(task, ErrPoolStopped)
			case task := <-p.RetryQueue:
				p.logFailedTask(task, ErrPoolStopped)
			default:
				return
			}
		}
	})
}

// Submit 非阻塞入队
func (p *WorkerPool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.TaskQueue <- task:
		p.metrics.SetQueueDepth(len(p.TaskQueue))
		return nil
	default:
		logger.Log.Warn("Worker pool queue full, rejecting task", zap.String("task", task.Name))
		return ErrQueueFull
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case task := <-p.TaskQueue:
			p.metrics.SetQueueDepth(len(p.TaskQueue))
			p.process(id, task)
		}
	}
}

func (p *WorkerPool) process(id int, task Task) {
	ctx := task.context()
	if err := ctx.Err(); err != nil {
		p.logFailedTask(task, err)
		return
	}

	err := task.Run(ctx)
	if err == nil {
		return
	}
	logger.Log.Warn("Failed to process task",
		zap.Int("worker", id), zap.String("task", task.Name), zap.Int("attempt", task.Retry), zap.Error(err))

	// 如果未达到最大重试次数，加入重试队列
	if task.Retry >= task.MaxRetry || ctx.Err() != nil {
		p.logFailedTask(task, err)
		return
	}
	task.Retry++
	select {
	case p.RetryQueue <- task:
		logger.Log.Debug("Task added to retry queue",
			zap.String("task", task.Name), zap.Int("attempt", task.Retry), zap.Int("max", task.MaxRetry))
	default:
		p.logFailedTask(task, err)
	}
}

func (p *WorkerPool) retryWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case task := <-p.RetryQueue:
			// 延迟重试，避免立即重试
			timer := time.NewTimer(time.Duration(task.Retry) * p.RetryDelay)
			select {
			case <-p.stop:
				timer.Stop()
				p.logFailedTask(task, ErrPoolStopped)
				return
			case <-task.context().Done():
				timer.Stop()
				p.logFailedTask(task, task.context().Err())
				continue
			case <-timer.C:
			}

			// 重新加入主队列
			select {
			case p.TaskQueue <- task:
			default:
				p.logFailedTask(task, ErrQueueFull)
			}
		}
	}
}

// logFailedTask is the dead-letter sink: the failure is logged and handed
// to the task's own failure hook.
func (p *WorkerPool) logFailedTask(task Task, err error) {
	logger.Log.Warn("[DeadLetter] Task failed permanently",
		zap.String("task", task.Name), zap.Int("retries", task.Retry), zap.Error(err))
	p.metrics.RecordDeadLetter(task.Name)
	if task.OnFailure != nil {
		task.OnFailure(err)
	}
}
