package pipehttp

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// workerPool runs request handlers via a pool of workers
// in FILO order, i.e. the most recently stopped worker will serve the next
// request.
//
// Such a scheme keeps CPU caches hot (in theory).
// 每个worker在单独的一个协程中执行关联一个 workerChan，使用for循环阻塞在
// workerChan.ch 上。
//
// 连接的读循环每解析出一个请求头，会创建一个新的worker或者从ready队列中取旧的worker，
// 将 RequestCtx 发送到worker关联的 workerChan。
type workerPool struct {
	// Function for serving one request.
	// It must finish the request's sink and body before returning.
	//
	// 设置为Server.serveRequest
	WorkerFunc func(rc *RequestCtx) error
	// 设置为Server.getConcurrency的返回值。
	MaxWorkersCount int
	// 设置为 Server.LogAllErrors字段
	LogAllErrors bool
	// 设置为 Server.MaxIdleWorkerDuration
	// 默认为10s
	MaxIdleWorkerDuration time.Duration
	// 设置为Server.logger()的返回值
	Logger *zerolog.Logger

	// 保护ready字段的读写
	lock sync.Mutex
	// 当前存在的worker协程的数量。
	workersCount int
	// 当前正在执行handler的worker数量。
	busy atomic.Int32
	// Stop 会将此字段设置为true。
	//
	// workerFunc 的for循环中，在服务完一个请求后，会调用
	// release 方法将workerChan放回ready列表中，在release方法中，
	// 如果检查此字段为true会返回false，release返回false导致上面的for循环退出。
	// 从而会让关联的worker协程退出。
	mustStop bool

	// 空闲workerChan列表
	ready []*workerChan

	// Stop 会关闭此通道。
	//
	// 此通道的关闭用于通知 Start 方法启动的用于清除worker(超过 MaxIdleWorkerDuration)的协程退出。
	stopCh chan struct{}
	// workerChan 缓冲池
	workerChanPool sync.Pool
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan *RequestCtx
}

func (wp *workerPool) Start() {
	if wp.stopCh != nil {
		return
	}
	wp.stopCh = make(chan struct{})
	stopCh := wp.stopCh
	wp.workerChanPool.New = func() any {
		return &workerChan{
			ch: make(chan *RequestCtx, workerChanCap),
		}
	}
	go func() {
		var scratch []*workerChan
		for {
			wp.clean(&scratch)
			select {
			case <-stopCh:
				return
			case <-time.After(wp.getMaxIdleWorkerDuration()):
			}
		}
	}()
}

// Stop 在 Server 关闭时调用。
func (wp *workerPool) Stop() {
	if wp.stopCh == nil {
		return
	}
	close(wp.stopCh)
	wp.stopCh = nil

	// Stop all the workers waiting for incoming requests.
	// Do not wait for busy workers - they will stop after
	// serving the request and noticing wp.mustStop = true.
	wp.lock.Lock()
	ready := wp.ready
	for i := range ready {
		ready[i].ch <- nil
		ready[i] = nil
	}
	wp.ready = ready[:0]
	wp.mustStop = true
	wp.lock.Unlock()
}

func (wp *workerPool) getMaxIdleWorkerDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return 10 * time.Second
	}
	return wp.MaxIdleWorkerDuration
}

func (wp *workerPool) clean(scratch *[]*workerChan) {
	maxIdleWorkerDuration := wp.getMaxIdleWorkerDuration()

	// Clean least recently used workers if they didn't serve requests
	// for more than maxIdleWorkerDuration.
	criticalTime := time.Now().Add(-maxIdleWorkerDuration)

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)

	// Use binary-search algorithm to find out the index of the least recently worker which can be cleaned up.
	l, r := 0, n-1
	for l <= r {
		mid := (l + r) / 2
		if criticalTime.After(wp.ready[mid].lastUseTime) {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	i := r
	if i == -1 {
		wp.lock.Unlock()
		return
	}

	*scratch = append((*scratch)[:0], ready[:i+1]...)
	m := copy(ready, ready[i+1:])
	for i = m; i < n; i++ {
		ready[i] = nil
	}
	wp.ready = ready[:m]
	wp.lock.Unlock()

	// Notify obsolete workers to stop.
	// This notification must be outside the wp.lock, since ch.ch
	// may be blocking and may consume a lot of time if many workers
	// are located on non-local CPUs.
	tmp := *scratch
	for i := range tmp {
		tmp[i].ch <- nil
		tmp[i] = nil
	}
}

// Serve hands rc to an idle or new worker. false is returned when
// MaxWorkersCount workers are busy or the pool was stopped.
func (wp *workerPool) Serve(rc *RequestCtx) bool {
	ch := wp.getCh()
	if ch == nil {
		return false
	}
	ch.ch <- rc
	return true
}

var workerChanCap = func() int {
	// Use blocking workerChan if GOMAXPROCS=1.
	// This immediately switches Serve to WorkerFunc, which results
	// in higher performance (under go1.5 at least).
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}

	// Use non-blocking workerChan if GOMAXPROCS>1,
	// since otherwise the read loop may lag parsing
	// further requests if WorkerFunc is CPU-bound.
	return 1
}()

func (wp *workerPool) getCh() *workerChan {
	var ch *workerChan
	createWorker := false

	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return nil
	}
	ready := wp.ready
	n := len(ready) - 1
	if n < 0 {
		if wp.workersCount < wp.MaxWorkersCount {
			createWorker = true
			wp.workersCount++
		}
	} else {
		ch = ready[n]
		ready[n] = nil
		wp.ready = ready[:n]
	}
	wp.lock.Unlock()

	if ch == nil {
		if !createWorker {
			return nil
		}
		vch := wp.workerChanPool.Get()
		ch = vch.(*workerChan)
		go func() {
			wp.workerFunc(ch)
			wp.workerChanPool.Put(vch)
		}()
	}
	return ch
}

func (wp *workerPool) release(ch *workerChan) bool {
	ch.lastUseTime = time.Now()
	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return false
	}
	wp.ready = append(wp.ready, ch)
	wp.lock.Unlock()
	return true
}

func (wp *workerPool) workerFunc(ch *workerChan) {
	var rc *RequestCtx

	var err error
	for rc = range ch.ch {
		if rc == nil {
			break
		}

		wp.busy.Add(1)
		// [[Server.serveRequest]]
		if err = wp.WorkerFunc(rc); err != nil && (wp.LogAllErrors || !isBenignConnError(err)) {
			wp.Logger.Error().Stack().Err(err).
				Uint64("conn", rc.ConnID()).
				Uint64("req", rc.ConnRequestNum()).
				Str("request", rc.Head().String()).
				Msg("error when serving request")
		}
		wp.busy.Add(-1)

		if !wp.release(ch) {
			break
		}
	}

	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}

// busyWorkers returns the number of workers running a handler.
func (wp *workerPool) busyWorkers() int {
	return int(wp.busy.Load())
}
