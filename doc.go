/*Package gridsub submits ToolAnalysis processing of ANNIE raw data runs to the
grid.

A run is stored as numbered part files. The driver splits a range of part
files into batches of at most a configured step size and submits one grid job
per batch. Each job also fetches the part files on either side of its batch
when they exist, so that events spanning a file boundary can be reconstructed;
the processed output of those neighbouring parts is discarded inside the job.

Job scripts are generated from templates, staged locally or on S3, and handed
to the scheduler either by a local shell or by a relay function running on
AWS Lambda.
*/
package gridsub
