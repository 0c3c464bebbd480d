/*
Package concurrency provides a context-aware counting semaphore.

A Limiter bounds how many operations run at the same time. Waiters are
served in arrival order, and a waiter whose context ends leaves the queue
without consuming a permit.

Basic usage:

	limiter, err := concurrency.New(10)
	if err != nil {
		log.Fatal(err)
	}

	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	defer limiter.Release()

Sharing a cap across worker pools:

A Limiter satisfies workerpool.Semaphore. Giving the same Limiter to several
pools bounds the items in flight across all of them, whatever each pool's
worker count:

	shared, _ := concurrency.New(4)
	resize, _ := workerpool.New(workerpool.Config{Workers: 8, Semaphore: shared}, resizeImage)
	upload, _ := workerpool.New(workerpool.Config{Workers: 8, Semaphore: shared}, uploadImage)
*/
package concurrency
