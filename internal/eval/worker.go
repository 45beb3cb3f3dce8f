package eval

import (
	"context"
	"sync"
)

// workerPool 固定数量的 goroutine 从任务队列取记录处理。
type workerPool struct {
	workers    int
	taskQueue  chan job
	workerFunc func(context.Context, job)
	wg         sync.WaitGroup
}

// job 一条待处理记录及其在清单中的位置。
type job struct {
	seq int
	utt Utterance
}

func newWorkerPool(workers int, workerFunc func(context.Context, job)) *workerPool {
	if workers < 1 {
		workers = 1
	}
	return &workerPool{
		workers:    workers,
		taskQueue:  make(chan job, workers*2),
		workerFunc: workerFunc,
	}
}

func (wp *workerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// Submit 提交任务，ctx 取消时放弃并返回 false。
func (wp *workerPool) Submit(ctx context.Context, j job) bool {
	select {
	case wp.taskQueue <- j:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop 关闭队列并等待所有 worker 退出。
func (wp *workerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}

func (wp *workerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case j, ok := <-wp.taskQueue:
			if !ok {
				return
			}
			wp.workerFunc(ctx, j)

		case <-ctx.Done():
			return
		}
	}
}
