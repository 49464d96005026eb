package stats

/*
This file defines all the metrics being collected. As new metrics are added
please follow this pattern.
*/

const (
	/************************* Pool metrics **************************/
	/*
		the number of workers currently registered with the pool
	*/
	PoolConnectedWorkersGauge = "connectedWorkersGauge"

	/*
		the number of registered workers currently in the inactive state
	*/
	PoolPausedWorkersGauge = "pausedWorkersGauge"

	/*
		the number of workers parked in the ready list waiting for work
	*/
	PoolReadyWorkersGauge = "readyWorkersGauge"

	/*
		the number of urgent tickets sitting in the backlog
	*/
	PoolBacklogHighGauge = "backlogHighGauge"

	/*
		the number of non-urgent tickets sitting in the backlog
	*/
	PoolBacklogLowGauge = "backlogLowGauge"

	/*
		the number of tickets accepted by workers
	*/
	PoolAcceptedCounter = "acceptedCounter"

	/*
		the number of tickets removed by cancellation before acceptance
	*/
	PoolCancelledCounter = "cancelledCounter"

	/************************* API metrics **************************/
	/*
		the number of job submissions received by the http facade
	*/
	APISubmitCounter = "submitCounter"

	/*
		the number of job submissions rejected by the rate limiter
	*/
	APISubmitThrottledCounter = "submitThrottledCounter"

	/*
		the number of worker registrations received by the http facade
	*/
	APIRegisterCounter = "registerCounter"

	/************************* Cache DB metrics **************************/
	/*
		the number of rows deleted by the cache ttl sweeper
	*/
	CacheSweptRowsCounter = "sweptRowsCounter"
)
