// Package server implements the gitdeploy trigger endpoint.
//
// A CI job finishing a build posts a signed JSON trigger to /in/{project}:
//
//	{"build_tag": "jenkins-nodeapp-42", "commit": "3f78...", "ref": "refs/heads/master"}
//
// The body is authenticated with an X-Hub-Signature-256 HMAC using the
// project's secret. Accepted triggers are answered with 202 and deployed in
// the background: the publishing profile is resolved, the matched files are
// pushed, the readiness check runs, and the outcome is written to the history
// database and reported as a GitHub commit status when configured.
//
// Only one deployment per project runs at a time; a trigger arriving while
// one is running is answered with 429 and recorded as rejected.
package server
