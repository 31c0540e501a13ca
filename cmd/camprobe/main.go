// Command camprobe finds IP cameras on the local network, queries them over
// ONVIF and negotiates a working RTSP stream path.
package main

func main() {
	Execute()
}
