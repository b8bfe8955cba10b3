/*
Package culprit locates the commit that introduced a test failure inside a range of
revisions. It supports failures that reproduce on every run as well as transient ones
that only show up intermittently.

A search is described by a [Config] (the command to run, the commit or date range to
analyze and the statistical parameters) and driven by a [Bisect], which is created with
[New] from a config plus the two collaborators the engine needs: a [VCS] for commit
enumeration and checkouts, and a [Runner] for executing the user's shell commands.

Two strategies are available. The bisect strategy is a classic binary search and assumes
the failure reproduces deterministically. The bayesian strategy models the failure
probability of every candidate commit from the pass/fail history observed so far, jumps
to the posterior median, and derives how many retries are needed before a passing commit
can be trusted at the configured confidence level.

Calling [Bisect.Run] runs the prepare command once, steps the chosen strategy until it
signals completion and returns a [Result] naming the culprit commit, after restoring the
working copy to its original state.
*/
package culprit
