/*
Package dsv3 declares the message shapes of the legacy in-process datastore
service. The real service is generated protobuf code living behind an internal
import path, so the shapes are declared here by hand; field numbering and
enum values follow the original wire definitions so that blobs written by one
are readable by the other.

Messages travel between the translator and the stub as plain pointers through
stub.Gateway, never over a network.
*/
package dsv3
