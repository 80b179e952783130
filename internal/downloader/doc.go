// Package downloader fetches URLs to local files in the background.
//
// A call to Downloader.Fetch returns a *Task immediately. The task queries the
// origin with a HEAD request and, when the server advertises byte ranges and a
// content length, splits the transfer into disjoint chunks that are written
// concurrently into a pre-sized file. If any chunk runs out of retries the
// remaining chunks are cancelled and the task starts over with a single
// streamed GET. Errors never escape Fetch; they are stored on the task and
// returned by Task.Wait, AwaitAll or Batch.Wait.
package downloader
